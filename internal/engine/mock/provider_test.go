package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hemalyze/hemalyze/internal/engine"
	"github.com/hemalyze/hemalyze/internal/engine/mock"
	"github.com/hemalyze/hemalyze/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() models.ReportRequest {
	return models.ReportRequest{
		ReportText: "Haemoglobin 14.2 g/dL (13.0 - 17.0)\nGlucose 92 mg/dL (70 - 100)",
		Query:      "Summarise my Blood Test Report",
	}
}

func TestNewMockEngine_Analyze(t *testing.T) {
	e := mock.NewMockEngine()
	assert.Equal(t, "mock", e.Name())

	result, err := e.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "mock-v1", result.Model)
	assert.NotEmpty(t, result.Verification)
	assert.NotEmpty(t, result.Doctor)
	assert.NotEmpty(t, result.Nutrition)
	assert.NotEmpty(t, result.Exercise)
}

func TestNewFailingEngine(t *testing.T) {
	e := mock.NewFailingEngine(engine.ErrEngineUnavailable)
	assert.Equal(t, "mock-failing", e.Name())

	_, err := e.Analyze(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)

	customErr := errors.New("custom engine error")
	_, err = mock.NewFailingEngine(customErr).Analyze(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, customErr)
}

func TestNewTimeoutEngine(t *testing.T) {
	e := mock.NewTimeoutEngine()
	assert.Equal(t, "mock-timeout", e.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Analyze(ctx, sampleRequest())
	assert.ErrorIs(t, err, engine.ErrInferenceTimeout)
}

func TestMockEngine_NilFunc(t *testing.T) {
	e := &mock.MockEngine{Name_: "bare"}

	result, err := e.Analyze(context.Background(), sampleRequest())
	assert.NoError(t, err)
	assert.Equal(t, models.ReportResult{}, result)
}
