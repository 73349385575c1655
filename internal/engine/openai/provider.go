package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/hemalyze/hemalyze/internal/config"
	"github.com/hemalyze/hemalyze/internal/engine"
	"github.com/hemalyze/hemalyze/pkg/models"
)

// Provider implements models.AnalysisEngine using the OpenAI API.
// Each persona runs as its own chat completion; the SDK handles
// transport-level retries, the executor handles job-level ones.
type Provider struct {
	cfg    config.OpenAIConfig
	client openai.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
	}
}

func (p *Provider) Name() string { return "openai" }

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
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", engine.ClassifyStatusCode(apiErr.StatusCode)
		}
		return "", engine.ClassifyTransportError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", engine.ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

var _ models.AnalysisEngine = (*Provider)(nil)
