package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hemalyze/hemalyze/internal/config"
	"github.com/hemalyze/hemalyze/internal/engine"
	"github.com/hemalyze/hemalyze/pkg/models"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	maxTokens        = 2048
)

// Provider implements models.AnalysisEngine using the Anthropic Messages API.
type Provider struct {
	cfg     config.AnthropicConfig
	baseURL string
	client  *http.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	return &Provider{
		cfg:     cfg,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "anthropic" }

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Analyze(ctx context.Context, req models.ReportRequest) (models.ReportResult, error) {
	prompt := engine.UserPrompt(req)
	outputs := make(map[string]string, 4)

	for _, persona := range engine.Personas() {
		text, err := p.complete(ctx, persona.System, prompt)
		if err != nil {
			return models.ReportResult{}, fmt.Errorf("%s persona: %w", persona.Key, err)
		}
		outputs[persona.Key] = text
	}

	return engine.SectionsFromOutputs(outputs, p.cfg.Model), nil
}

func (p *Provider) complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	u := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", engine.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", engine.ClassifyStatusCode(resp.StatusCode)
	}

	var msg messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrInvalidResponse, err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text content", engine.ErrInvalidResponse)
}

var _ models.AnalysisEngine = (*Provider)(nil)
