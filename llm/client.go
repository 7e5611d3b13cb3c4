package llm

import (
	"context"
	"fmt"
	"sync"
)

// Stage names used to select a per-stage provider/model override.
const (
	StageTriage     = "triage"
	StageArchitect  = "architect"
	StageCodeReview = "codereview"
)

// StageConfig pins a stage to a provider and model (SPEC_FULL.md §8).
type StageConfig struct {
	Provider string // "anthropic" | "openai" | "google"
	Model    string
}

// Client is the single shared chat client every worker calls through. It is
// safe for concurrent use (spec.md §5 "the LLM chat client is shared and
// thread-safe; concurrent calls are allowed").
type Client struct {
	mu        sync.RWMutex
	providers map[string]Provider
	stages    map[string]StageConfig
	default_  string
}

// NewClient wires the default provider set (Anthropic, OpenAI, Google) and
// defaults every stage to the given default provider name.
func NewClient(defaultProvider string) *Client {
	c := &Client{
		providers: map[string]Provider{
			"anthropic": NewAnthropicProvider(),
			"openai":    NewOpenAIProvider(),
			"google":    NewGoogleProvider(),
		},
		stages:   make(map[string]StageConfig),
		default_: defaultProvider,
	}
	if c.default_ == "" {
		c.default_ = "anthropic"
	}
	return c
}

// SetStageConfig pins a stage to a specific provider/model at runtime.
func (c *Client) SetStageConfig(stage string, cfg StageConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[stage] = cfg
}

// RegisterProvider adds or replaces a named provider, letting a caller wire
// in a backend beyond the three built in (or substitute a fake for tests).
func (c *Client) RegisterProvider(name string, p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = p
}

func (c *Client) providerFor(stage string) (Provider, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg, ok := c.stages[stage]
	name := c.default_
	model := ""
	if ok && cfg.Provider != "" {
		name = cfg.Provider
		model = cfg.Model
	}
	return c.providers[name], model
}

// Complete invokes the provider configured for stage. A Model set on the
// request wins; the stage's pinned model is used only when req.Model is
// empty.
func (c *Client) Complete(ctx context.Context, stage string, req *Request) (*Response, error) {
	provider, stageModel := c.providerFor(stage)
	if provider == nil {
		return nil, fmt.Errorf("llm: no provider configured for stage %q", stage)
	}
	if !provider.Available() {
		return nil, ErrProviderNotAvailable(provider.Name())
	}
	if stageModel != "" && req.Model == "" {
		req.Model = stageModel
	}
	return provider.CreateMessage(ctx, req)
}

// Registered reports whether at least one provider has a credential
// configured, i.e. the core is not running fully degraded (spec.md §7).
func (c *Client) Registered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.providers {
		if p.Available() {
			return true
		}
	}
	return false
}

// UsageReport returns cumulative usage for every wired provider.
func (c *Client) UsageReport() map[string]TokenUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]TokenUsage, len(c.providers))
	for name, p := range c.providers {
		out[name] = p.GetUsage()
	}
	return out
}
