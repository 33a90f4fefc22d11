package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/revdeluxe/HDE/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Metrics records Prometheus request metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps message ids and peer names out of metric labels.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/messages/") && strings.HasSuffix(path, "/status"):
		return "/api/messages/:id/status"
	case strings.HasPrefix(path, "/api/sync/") && len(path) > len("/api/sync/"):
		return "/api/sync/:peer"
	}
	return path
}
