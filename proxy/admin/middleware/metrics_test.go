package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRoute(t *testing.T) {
	m := NewHTTPMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	handler := Metrics(m)(mux)

	for range 3 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("/healthz", "200")); got != 3 {
		t.Errorf("Expected 3 healthz requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("unmatched", "404")); got != 1 {
		t.Errorf("Expected 1 unmatched request, got %v", got)
	}
	if got := testutil.CollectAndCount(m.Duration); got != 2 {
		t.Errorf("Expected 2 duration series, got %d", got)
	}
}
