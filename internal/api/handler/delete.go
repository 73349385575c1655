package handler

import (
	"errors"
	"net/http"

	"github.com/hemalyze/hemalyze/internal/api/response"
	"github.com/hemalyze/hemalyze/internal/store"
)

// NewDeleteHandler returns the handler for DELETE /analysis/{analysisID}.
func NewDeleteHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAnalysisID(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND",
					"No analysis with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{
			"analysis_id": id.String(),
			"deleted":     true,
		})
	}
}
