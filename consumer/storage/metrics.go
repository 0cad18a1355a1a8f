package storage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/metric"
)

// storageMetrics holds Prometheus metrics for the storage consumer.
type storageMetrics struct {
	persistsTotal *prometheus.CounterVec
}

// newStorageMetrics creates and registers storage consumer metrics. A nil
// registry disables metrics.
func newStorageMetrics(registry *metric.MetricsRegistry) *storageMetrics {
	if registry == nil {
		return nil
	}

	m := &storageMetrics{
		persistsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "consumer_storage",
			Name:      "persists_total",
			Help:      "Asset snapshot persistence attempts",
		}, []string{"outcome"}),
	}

	registry.PrometheusRegistry().MustRegister(m.persistsTotal)
	return m
}

func (m *storageMetrics) recordPersist(outcome string) {
	if m == nil {
		return
	}
	m.persistsTotal.WithLabelValues(outcome).Inc()
}
