package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts admin requests by path and status
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates unregistered collectors
func NewHTTPMetrics() *HTTPMetrics {
	const (
		namespace = "mavrelay"
		subsystem = "admin"
	)

	return &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Count of admin HTTP requests",
		}, []string{"path", "code"}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Histogram of admin request handling times",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 6),
		}, []string{"path"}),
	}
}

// PrometheusCollectors returns every collector for registration
func (m *HTTPMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Requests, m.Duration}
}

// Metrics records request counts and durations. Paths are labelled by the
// route the mux matched, so unknown URLs share one label.
func Metrics(m *HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}
			m.Requests.WithLabelValues(path, strconv.Itoa(rw.statusCode)).Inc()
			m.Duration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		})
	}
}
