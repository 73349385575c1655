package handler

import (
	"context"
	"net/http"

	"github.com/hemalyze/hemalyze/internal/api/response"
)

// Pinger is a dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /health. It reports 503
// with a per-dependency map when any dependency is degraded.
func NewHealthHandler(db, cache, queue Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := queue.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		for _, state := range checks {
			if state != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
