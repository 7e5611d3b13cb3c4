// Package pipeline implements the request state machine, its five
// cooperating polling workers, and the cross-cutting Orchestrator that
// enforces stall detection and drives deployment (spec.md §4).
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/forgepipeline/core/store"
)

// Config is the process-wide, hot-reloadable tuning surface every worker
// reads fresh at the start of its cycle (spec.md §9 "runtime-editable
// config"). It is stored behind an atomic.Pointer so a config reload never
// races a worker mid-cycle.
type Config struct {
	// TriageWorker.
	MaxTriagesBeforeEscalation int `yaml:"maxTriagesBeforeEscalation"`
	TriageBatchSize            int `yaml:"triageBatchSize"`

	// ArchitectWorker.
	MaxFilesToRead       int     `yaml:"maxFilesToRead"`
	MaxFileContentChars  int     `yaml:"maxFileContentChars"`
	ArchitectTemperature float64 `yaml:"architectTemperature"`
	ArchitectMaxTokens   int     `yaml:"architectMaxTokens"`
	ArchitectBatchSize   int     `yaml:"architectBatchSize"`

	// ImplementationTriggerWorker.
	MaxConcurrentSessions int    `yaml:"maxConcurrentSessions"`
	CodingAgentPrincipal  string `yaml:"codingAgentPrincipal"`
	BaseBranch            string `yaml:"baseBranch"`

	// CodeReviewWorker.
	CodeReviewTemperature float64 `yaml:"codeReviewTemperature"`
	CodeReviewMaxTokens   int     `yaml:"codeReviewMaxTokens"`
	MaxInputTokens        int     `yaml:"maxInputTokens"`
	CodeReviewBatchSize   int     `yaml:"codeReviewBatchSize"`

	// Orchestrator / deployment.
	DeploymentMode   string `yaml:"deploymentMode"` // "Auto" | "Staged"
	MaxDeployRetries int    `yaml:"maxDeployRetries"`
	DeployAPIWorkflow string `yaml:"deployApiWorkflow"`
	DeployWebWorkflow string `yaml:"deployWebWorkflow"`

	// Budget gates; 0 or negative disables the gate.
	DailyTokenBudget   int `yaml:"dailyTokenBudget"`
	MonthlyTokenBudget int `yaml:"monthlyTokenBudget"`

	// Polling.
	PollInterval string `yaml:"pollInterval"` // parsed with time.ParseDuration
}

// DefaultConfig returns the spec-documented defaults (spec.md §4.1-§4.6).
func DefaultConfig() Config {
	return Config{
		MaxTriagesBeforeEscalation: 3,
		TriageBatchSize:            5,

		MaxFilesToRead:       20,
		MaxFileContentChars:  50_000,
		ArchitectTemperature: 0.2,
		ArchitectMaxTokens:   4000,
		ArchitectBatchSize:   3,

		MaxConcurrentSessions: 3,
		CodingAgentPrincipal:  "copilot-swe-agent",
		BaseBranch:            "main",

		CodeReviewTemperature: 0.2,
		CodeReviewMaxTokens:   2000,
		MaxInputTokens:        100_000,
		CodeReviewBatchSize:   5,

		DeploymentMode:    "Staged",
		MaxDeployRetries:  3,
		DeployAPIWorkflow: "deploy-api.yml",
		DeployWebWorkflow: "deploy-web.yml",

		PollInterval: "30s",
	}
}

// LoadConfigFile reads a YAML config file over DefaultConfig, returning the
// defaults unchanged if path is empty or the file doesn't exist.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("pipeline: read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("pipeline: parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// ConfigStore layers the store's per-key runtime overrides (spec.md §9)
// on top of a base Config, read fresh at the start of each worker cycle.
type ConfigStore struct {
	base atomic.Pointer[Config]
	db   store.Store
}

// NewConfigStore seeds the store with base.
func NewConfigStore(base Config, db store.Store) *ConfigStore {
	cs := &ConfigStore{db: db}
	cs.base.Store(&base)
	return cs
}

// SetBase hot-swaps the whole config, e.g. on file reload.
func (c *ConfigStore) SetBase(cfg Config) {
	c.base.Store(&cfg)
}

// Current returns the base config overlaid with any persisted per-key
// overrides found in the store.
func (c *ConfigStore) Current(ctx context.Context) Config {
	cfg := *c.base.Load()

	if v, ok, _ := c.db.GetConfigValue(ctx, "deploymentMode"); ok && v != "" {
		cfg.DeploymentMode = v
	}
	if v, ok, _ := c.db.GetConfigValue(ctx, "maxConcurrentSessions"); ok {
		fmt.Sscanf(v, "%d", &cfg.MaxConcurrentSessions)
	}
	if v, ok, _ := c.db.GetConfigValue(ctx, "dailyTokenBudget"); ok {
		fmt.Sscanf(v, "%d", &cfg.DailyTokenBudget)
	}
	if v, ok, _ := c.db.GetConfigValue(ctx, "monthlyTokenBudget"); ok {
		fmt.Sscanf(v, "%d", &cfg.MonthlyTokenBudget)
	}

	return cfg
}
