package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// responseMeta captures what the handler wrote so the access log can
// report it after the fact.
type responseMeta struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (m *responseMeta) WriteHeader(code int) {
	m.status = code
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeta) Write(p []byte) (int, error) {
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

// Logger emits one structured access-log line per request, tagged with
// the request id assigned upstream so log lines can be correlated with
// error responses.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		meta := &responseMeta{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(meta, r)

		slog.Info("request",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", meta.status,
			"bytes", meta.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
