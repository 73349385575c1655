package mock

import (
	"context"

	"github.com/hemalyze/hemalyze/internal/engine"
	"github.com/hemalyze/hemalyze/pkg/models"
)

// MockEngine satisfies models.AnalysisEngine for testing and local
// development without a real LLM backend.
type MockEngine struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.ReportRequest) (models.ReportResult, error)
}

func (m *MockEngine) Name() string { return m.Name_ }

func (m *MockEngine) Analyze(ctx context.Context, req models.ReportRequest) (models.ReportResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return models.ReportResult{}, nil
}

// NewMockEngine returns a MockEngine with canned persona sections.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.ReportRequest) (models.ReportResult, error) {
			return models.ReportResult{
				Verification: "Document appears to be a legitimate blood test report.",
				Doctor:       "All reviewed markers fall within normal reference ranges. Consult a qualified healthcare provider for interpretation.",
				Nutrition:    "No deficiencies indicated. Maintain a balanced diet of whole foods.",
				Exercise:     "Markers support moderate aerobic exercise. Obtain medical clearance before new programmes.",
				Model:        "mock-v1",
			}, nil
		},
	}
}

// NewFailingEngine returns a MockEngine that always returns the given error.
func NewFailingEngine(err error) *MockEngine {
	return &MockEngine{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.ReportRequest) (models.ReportResult, error) {
			return models.ReportResult{}, err
		},
	}
}

// NewTimeoutEngine returns a MockEngine that blocks until context is cancelled.
func NewTimeoutEngine() *MockEngine {
	return &MockEngine{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.ReportRequest) (models.ReportResult, error) {
			<-ctx.Done()
			return models.ReportResult{}, engine.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockEngine implements AnalysisEngine.
var _ models.AnalysisEngine = (*MockEngine)(nil)
