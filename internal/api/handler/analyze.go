// Package handler contains the HTTP handlers for the analysis API.
// Each constructor takes the narrow interface it needs so handlers can
// be tested with hand-rolled stubs.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hemalyze/hemalyze/internal/analysis"
	mw "github.com/hemalyze/hemalyze/internal/api/middleware"
	"github.com/hemalyze/hemalyze/internal/api/response"
	"github.com/hemalyze/hemalyze/internal/report"
	"github.com/hemalyze/hemalyze/pkg/models"
)

// AnalysisService defines the service interface the handlers depend on.
type AnalysisService interface {
	Submit(ctx context.Context, p analysis.SubmitParams) (*analysis.SubmitResult, error)
	SubmitSync(ctx context.Context, p analysis.SubmitParams) (*models.Analysis, error)
	Status(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	Result(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	List(ctx context.Context, userID *uuid.UUID, skip, limit int) ([]*models.Analysis, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type analyzeResponse struct {
	AnalysisID string `json:"analysis_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	Query      string `json:"query"`
	Filename   string `json:"filename"`
	Cached     bool   `json:"cached"`
	Message    string `json:"message"`
}

// NewAnalyzeHandler returns the handler for POST /analyze.
func NewAnalyzeHandler(svc AnalysisService, maxFileSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := parseSubmitRequest(w, r, maxFileSize)
		if !ok {
			return
		}

		res, err := svc.Submit(r.Context(), params)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		if res.Deduplicated {
			response.JSON(w, analyzeResponse{
				AnalysisID: res.Analysis.ID.String(),
				TaskID:     "cached",
				Status:     res.Analysis.Status,
				Query:      res.Analysis.Query,
				Filename:   res.Analysis.OriginalFilename,
				Cached:     true,
				Message:    "An identical report was analysed recently; returning the existing analysis",
			})
			return
		}

		response.Accepted(w, analyzeResponse{
			AnalysisID: res.Analysis.ID.String(),
			TaskID:     res.TaskID.String(),
			Status:     res.Analysis.Status,
			Query:      res.Analysis.Query,
			Filename:   res.Analysis.OriginalFilename,
			Message:    "Analysis queued; poll /status/{analysis_id} for progress",
		})
	}
}

// NewAnalyzeSyncHandler returns the handler for POST /analyze_sync,
// which blocks until the analysis finishes.
func NewAnalyzeSyncHandler(svc AnalysisService, maxFileSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := parseSubmitRequest(w, r, maxFileSize)
		if !ok {
			return
		}

		a, err := svc.SubmitSync(r.Context(), params)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		if a.Status == models.AnalysisStatusFailed {
			msg := "Analysis failed"
			if a.ErrorMessage != nil {
				msg = *a.ErrorMessage
			}
			response.Error(w, http.StatusBadRequest, "ANALYSIS_FAILED", msg, nil)
			return
		}

		response.JSON(w, resultPayload(a))
	}
}

// parseSubmitRequest pulls the upload and its metadata out of the
// multipart form. An authenticated identity overrides any user_id form
// value.
func parseSubmitRequest(w http.ResponseWriter, r *http.Request, maxFileSize int64) (analysis.SubmitParams, bool) {
	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"A PDF file is required in the 'file' form field", nil)
		return analysis.SubmitParams{}, false
	}
	defer file.Close()

	// One extra byte lets the size check distinguish "at the limit"
	// from "over it".
	content, err := io.ReadAll(io.LimitReader(file, maxFileSize+1))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Could not read uploaded file", nil)
		return analysis.SubmitParams{}, false
	}

	params := analysis.SubmitParams{
		Filename: header.Filename,
		Content:  content,
		Query:    strings.TrimSpace(r.FormValue("query")),
	}

	if id, ok := mw.GetUserID(r); ok {
		params.UserID = &id
	} else if raw := r.FormValue("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"user_id must be a valid UUID", nil)
			return analysis.SubmitParams{}, false
		}
		params.UserID = &id
	}

	return params, true
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, report.ErrTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			"The uploaded file exceeds the maximum allowed size", nil)
	case errors.Is(err, report.ErrNotPDF),
		errors.Is(err, report.ErrEmptyFile),
		errors.Is(err, report.ErrMalformed):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"Could not accept the analysis right now, try again later", nil)
	}
}
