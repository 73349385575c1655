package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hemalyze/hemalyze/internal/api/response"
	"github.com/hemalyze/hemalyze/internal/store"
	"github.com/hemalyze/hemalyze/pkg/models"
)

type statusResponse struct {
	AnalysisID        string     `json:"analysis_id"`
	Status            string     `json:"status"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ProcessingSeconds *float64   `json:"processing_seconds,omitempty"`
	Error             *string    `json:"error,omitempty"`
}

// NewStatusHandler returns the handler for GET /status/{analysisID}.
func NewStatusHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAnalysisID(w, r)
		if !ok {
			return
		}

		a, err := svc.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND",
					"No analysis with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		resp := statusResponse{
			AnalysisID:        a.ID.String(),
			Status:            a.Status,
			StartedAt:         a.StartedAt,
			CompletedAt:       a.CompletedAt,
			ProcessingSeconds: a.ProcessingSeconds,
		}
		// Cache fast-path answers carry no timestamps.
		if !a.CreatedAt.IsZero() {
			created := a.CreatedAt
			resp.CreatedAt = &created
		}
		if a.Status == models.AnalysisStatusFailed {
			resp.Error = a.ErrorMessage
		}

		response.JSON(w, resp)
	}
}

func parseAnalysisID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"analysis id must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
