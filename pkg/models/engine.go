// Package models contains shared data models used across the hemalyze codebase.
package models

import "context"

// AnalysisEngine is the core interface that all LLM integrations must
// implement. Never call a specific provider directly — always inject
// this interface.
type AnalysisEngine interface {
	// Analyze runs the full four-persona review of one report.
	Analyze(ctx context.Context, req ReportRequest) (ReportResult, error)
	// Name returns the provider identifier (e.g., "openai", "ollama").
	Name() string
}

// ReportRequest is the input to one engine invocation.
type ReportRequest struct {
	// ReportText is the extracted text of the uploaded blood-test PDF.
	ReportText string
	// Query is the patient's free-text question.
	Query string
}

// ReportResult carries the four persona sections produced by the engine.
type ReportResult struct {
	Verification string
	Doctor       string
	Nutrition    string
	Exercise     string
	Model        string
}
