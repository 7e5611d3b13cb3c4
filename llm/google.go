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

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GoogleProvider is a third option for per-stage provider pinning.
type GoogleProvider struct {
	BaseProvider
	apiKey     string
	httpClient *http.Client
}

// NewGoogleProvider builds a provider from the GOOGLE_API_KEY env var.
func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{
		apiKey:     os.Getenv("GOOGLE_API_KEY"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *GoogleProvider) Name() string    { return "google" }
func (p *GoogleProvider) Available() bool { return p.apiKey != "" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// CreateMessage implements Provider.
func (p *GoogleProvider) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	if !p.Available() {
		return nil, ErrProviderNotAvailable("google")
	}

	model := req.Model
	if model == "" {
		model = ModelGoogleGemini20
	}

	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	genReq := geminiRequest{
		Contents: contents,
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			StopSequences:   req.StopSequences,
		},
	}
	if req.System != "" {
		genReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if genReq.GenerationConfig.MaxOutputTokens == 0 {
		genReq.GenerationConfig.MaxOutputTokens = 4096
	}

	payload, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal google request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", googleBaseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build google request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: google request failed: %w", err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read google response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: google error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm: unmarshal google response: %w", err)
	}

	content, stopReason := "", ""
	if len(parsed.Candidates) > 0 {
		c := parsed.Candidates[0]
		stopReason = c.FinishReason
		if len(c.Content.Parts) > 0 {
			content = c.Content.Parts[0].Text
		}
	}

	p.trackUsage(parsed.UsageMetadata.PromptTokenCount, parsed.UsageMetadata.CandidatesTokenCount)

	return &Response{
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage: ResponseUsage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
		Duration: duration,
	}, nil
}
