package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider lets an operator pin a cheaper/faster stage to OpenAI
// instead of Anthropic (SPEC_FULL.md §8 per-stage provider override).
type OpenAIProvider struct {
	BaseProvider
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIProvider builds a provider from the OPENAI_API_KEY env var.
func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:     os.Getenv("OPENAI_API_KEY"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *OpenAIProvider) Name() string    { return "openai" }
func (p *OpenAIProvider) Available() bool { return p.apiKey != "" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// CreateMessage implements Provider.
func (p *OpenAIProvider) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	if !p.Available() {
		return nil, ErrProviderNotAvailable("openai")
	}

	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = ModelOpenAIGPT4o
	}

	payload, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.StopSequences,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIBaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: openai request failed: %w", err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read openai response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: openai error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm: unmarshal openai response: %w", err)
	}

	content, stopReason := "", ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
		stopReason = parsed.Choices[0].FinishReason
	}

	p.trackUsage(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	return &Response{
		Content:    content,
		Model:      parsed.Model,
		StopReason: stopReason,
		Usage: ResponseUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
		Duration: duration,
	}, nil
}
