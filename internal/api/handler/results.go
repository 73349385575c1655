package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hemalyze/hemalyze/internal/analysis"
	"github.com/hemalyze/hemalyze/internal/api/response"
	"github.com/hemalyze/hemalyze/internal/store"
	"github.com/hemalyze/hemalyze/pkg/models"
)

// Disclaimer accompanies every completed analysis payload.
const Disclaimer = "This analysis is generated by an AI system and is not a medical " +
	"diagnosis. Always consult a qualified healthcare provider about your results."

type resultResponse struct {
	AnalysisID        string     `json:"analysis_id"`
	Status            string     `json:"status"`
	Query             string     `json:"query"`
	Filename          string     `json:"filename"`
	Summary           *string    `json:"summary"`
	Verification      *string    `json:"verification"`
	Doctor            *string    `json:"doctor"`
	Nutrition         *string    `json:"nutrition"`
	Exercise          *string    `json:"exercise"`
	EngineProvider    *string    `json:"engine_provider,omitempty"`
	EngineModel       *string    `json:"engine_model,omitempty"`
	ProcessingSeconds *float64   `json:"processing_seconds,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Disclaimer        string     `json:"disclaimer"`
}

func resultPayload(a *models.Analysis) resultResponse {
	return resultResponse{
		AnalysisID:        a.ID.String(),
		Status:            a.Status,
		Query:             a.Query,
		Filename:          a.OriginalFilename,
		Summary:           a.Summary,
		Verification:      a.Verification,
		Doctor:            a.Doctor,
		Nutrition:         a.Nutrition,
		Exercise:          a.Exercise,
		EngineProvider:    a.EngineProvider,
		EngineModel:       a.EngineModel,
		ProcessingSeconds: a.ProcessingSeconds,
		CompletedAt:       a.CompletedAt,
		Disclaimer:        Disclaimer,
	}
}

// NewResultsHandler returns the handler for GET /results/{analysisID}.
func NewResultsHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAnalysisID(w, r)
		if !ok {
			return
		}

		a, err := svc.Result(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND",
					"No analysis with that id", nil)
			case errors.Is(err, analysis.ErrNotReady):
				response.Error(w, http.StatusBadRequest, "NOT_READY",
					"Analysis is still in progress; poll /status/{analysis_id}", nil)
			case errors.Is(err, analysis.ErrAnalysisFailed):
				response.Error(w, http.StatusBadRequest, "ANALYSIS_FAILED",
					failureMessage(err), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, resultPayload(a))
	}
}

// failureMessage strips the sentinel prefix, leaving the stored reason.
func failureMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), analysis.ErrAnalysisFailed.Error())
	msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg), ":"))
	if msg == "" {
		return "Analysis failed"
	}
	return msg
}
