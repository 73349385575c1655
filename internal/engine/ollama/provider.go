package ollama

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

// Provider implements models.AnalysisEngine using a local Ollama server.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "ollama" }

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message message `json:"message"`
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
	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	u := p.cfg.BaseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", engine.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", engine.ClassifyStatusCode(resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrInvalidResponse, err)
	}
	if chat.Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", engine.ErrInvalidResponse)
	}
	return chat.Message.Content, nil
}

var _ models.AnalysisEngine = (*Provider)(nil)
