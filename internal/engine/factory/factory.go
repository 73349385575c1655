// Package factory constructs the analysis engine named by the
// configuration. It sits below the provider packages, which all build
// on the shared engine package.
package factory

import (
	"fmt"

	"github.com/hemalyze/hemalyze/internal/config"
	"github.com/hemalyze/hemalyze/internal/engine/anthropic"
	"github.com/hemalyze/hemalyze/internal/engine/mock"
	"github.com/hemalyze/hemalyze/internal/engine/ollama"
	"github.com/hemalyze/hemalyze/internal/engine/openai"
	"github.com/hemalyze/hemalyze/pkg/models"
)

// NewEngine constructs the configured analysis engine.
// Called once at startup by both the server and the worker.
func NewEngine(cfg config.EngineConfig) (models.AnalysisEngine, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "mock":
		return mock.NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q: must be one of openai, anthropic, ollama, mock", cfg.Provider)
	}
}
