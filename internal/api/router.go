package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/hemalyze/hemalyze/internal/api/middleware"
	"github.com/hemalyze/hemalyze/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	AnalyzeHandler     http.HandlerFunc
	AnalyzeSyncHandler http.HandlerFunc
	StatusHandler      http.HandlerFunc
	ResultsHandler     http.HandlerFunc
	ListHandler        http.HandlerFunc
	DeleteHandler      http.HandlerFunc
	CreateKeyHandler   http.HandlerFunc
	ListKeysHandler    http.HandlerFunc
	RevokeKeyHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Rate-limited routes; authentication is optional here, so an
	// anonymous client can still submit reports.
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Post("/analyze_sync", orNotImplemented(deps.AnalyzeSyncHandler))
		r.Get("/status/{analysisID}", orNotImplemented(deps.StatusHandler))
		r.Get("/results/{analysisID}", orNotImplemented(deps.ResultsHandler))
		r.Get("/analyses", orNotImplemented(deps.ListHandler))
		r.Delete("/analysis/{analysisID}", orNotImplemented(deps.DeleteHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
