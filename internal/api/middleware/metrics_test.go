package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/revdeluxe/HDE/internal/metrics"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/messages/alice-1234/status", want: "/api/messages/:id/status"},
		{path: "/api/messages/crc", want: "/api/messages/crc"},
		{path: "/api/messages", want: "/api/messages"},
		{path: "/api/sync/node-b", want: "/api/sync/:peer"},
		{path: "/api/sync/", want: "/api/sync/"},
		{path: "/health", want: "/health"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsRecordsStatus(t *testing.T) {
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/messages/:id/status", "404")
	before := counterValue(t, counter)

	h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/messages/x-1/status", nil))

	if got := counterValue(t, counter) - before; got != 1 {
		t.Errorf("requests counted = %v, want 1", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}
