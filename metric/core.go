package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the platform-level metric set every service reports into
// through its base lifecycle: state, probe outcome, and throughput.
// Domain collectors (pipeline stages, gateway sessions, store
// operations) belong to their services and register through the
// MetricsRegistrar interface instead.
type Metrics struct {
	ServiceStatus   *prometheus.GaugeVec
	ServiceHealthy  *prometheus.GaugeVec
	EventsProcessed *prometheus.CounterVec
}

// NewMetrics builds the platform metric set. Collectors are created
// unregistered; the registry wires them in.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "assetmesh",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service lifecycle state (0=stopped, 1=starting, 2=running, 3=stopping)",
			},
			[]string{"service"},
		),

		ServiceHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "assetmesh",
				Subsystem: "service",
				Name:      "healthy",
				Help:      "Last health probe outcome (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetmesh",
				Subsystem: "service",
				Name:      "events_processed_total",
				Help:      "Units of work handled, as reported through RecordActivity",
			},
			[]string{"service"},
		),
	}
}

// RecordServiceStatus mirrors a lifecycle transition to the gauge.
func (m *Metrics) RecordServiceStatus(service string, status int) {
	m.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordServiceHealth mirrors a probe outcome to the gauge.
func (m *Metrics) RecordServiceHealth(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ServiceHealthy.WithLabelValues(service).Set(value)
}

// RecordEventsProcessed counts n handled work units against a service.
func (m *Metrics) RecordEventsProcessed(service string, n int64) {
	m.EventsProcessed.WithLabelValues(service).Add(float64(n))
}
