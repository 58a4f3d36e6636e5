package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const labelEndpoint = "endpoint"

// Metrics holds the relay's Prometheus collectors
type Metrics struct {
	Received        *prometheus.CounterVec
	Forwarded       *prometheus.CounterVec
	SendErrors      *prometheus.CounterVec
	TransientErrors *prometheus.CounterVec
	WorkersRunning  prometheus.Gauge
	QueueDepth      prometheus.Gauge
	QueueDropped    prometheus.Counter
}

// NewMetrics creates unregistered collectors
func NewMetrics() *Metrics {
	const (
		namespace = "mavrelay"
		subsystem = "relay"
	)

	return &Metrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "received_frames_total",
			Help:      "Count of frames received per endpoint",
		}, []string{labelEndpoint}),

		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forwarded_frames_total",
			Help:      "Count of frames successfully written per destination endpoint",
		}, []string{labelEndpoint}),

		SendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_errors_total",
			Help:      "Count of failed writes per destination endpoint",
		}, []string{labelEndpoint}),

		TransientErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "empty_polls_total",
			Help:      "Count of receive polls that returned no frame",
		}, []string{labelEndpoint}),

		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "receive_workers_running",
			Help:      "Number of endpoints still receiving",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Frames waiting in the queue router",
		}),

		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_dropped_total",
			Help:      "Frames evicted from a full queue router",
		}),
	}
}

// PrometheusCollectors returns every collector for registration
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Received,
		m.Forwarded,
		m.SendErrors,
		m.TransientErrors,
		m.WorkersRunning,
		m.QueueDepth,
		m.QueueDropped,
	}
}
