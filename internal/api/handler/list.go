package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hemalyze/hemalyze/internal/api/response"
	"github.com/hemalyze/hemalyze/pkg/models"
)

type analysisSummary struct {
	AnalysisID  string     `json:"analysis_id"`
	Status      string     `json:"status"`
	Filename    string     `json:"filename"`
	Query       string     `json:"query"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewListHandler returns the handler for GET /analyses.
func NewListHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		skip, ok := parseIntParam(w, q.Get("skip"), "skip")
		if !ok {
			return
		}
		limit, ok := parseIntParam(w, q.Get("limit"), "limit")
		if !ok {
			return
		}

		var userID *uuid.UUID
		if raw := q.Get("user_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"user_id must be a valid UUID", nil)
				return
			}
			userID = &id
		}

		analyses, total, err := svc.List(r.Context(), userID, skip, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		summaries := make([]analysisSummary, 0, len(analyses))
		for _, a := range analyses {
			summaries = append(summaries, summarize(a))
		}

		// The service clamps paging, so echo the effective values.
		effectiveLimit := limit
		if effectiveLimit <= 0 {
			effectiveLimit = 20
		}
		if effectiveLimit > 100 {
			effectiveLimit = 100
		}
		effectiveSkip := skip
		if effectiveSkip < 0 {
			effectiveSkip = 0
		}

		response.Collection(w, summaries, response.PaginationMeta{
			Skip:    effectiveSkip,
			Limit:   effectiveLimit,
			Total:   total,
			HasMore: effectiveSkip+len(summaries) < total,
		})
	}
}

func summarize(a *models.Analysis) analysisSummary {
	return analysisSummary{
		AnalysisID:  a.ID.String(),
		Status:      a.Status,
		Filename:    a.OriginalFilename,
		Query:       a.Query,
		UserID:      a.UserID,
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
	}
}

func parseIntParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			name+" must be an integer", nil)
		return 0, false
	}
	return v, true
}
