package datapoint

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/metric"
)

// datapointMetrics holds Prometheus metrics for the datapoint consumer.
type datapointMetrics struct {
	samplesTotal *prometheus.CounterVec
}

// newDatapointMetrics creates and registers datapoint consumer metrics. A
// nil registry disables metrics.
func newDatapointMetrics(registry *metric.MetricsRegistry) *datapointMetrics {
	if registry == nil {
		return nil
	}

	m := &datapointMetrics{
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "consumer_datapoint",
			Name:      "samples_total",
			Help:      "Datapoint samples appended to attribute series",
		}, []string{"outcome"}),
	}

	registry.PrometheusRegistry().MustRegister(m.samplesTotal)
	return m
}

func (m *datapointMetrics) recordSample(outcome string) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(outcome).Inc()
}
