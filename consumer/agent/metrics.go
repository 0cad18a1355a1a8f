package agent

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/metric"
)

// agentMetrics holds Prometheus metrics for the agent consumer.
type agentMetrics struct {
	writesTotal *prometheus.CounterVec
}

// newAgentMetrics creates and registers agent consumer metrics. A nil
// registry disables metrics.
func newAgentMetrics(registry *metric.MetricsRegistry) *agentMetrics {
	if registry == nil {
		return nil
	}

	m := &agentMetrics{
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "consumer_agent",
			Name:      "writes_total",
			Help:      "Linked writes routed to protocol implementations",
		}, []string{"outcome"}),
	}

	registry.PrometheusRegistry().MustRegister(m.writesTotal)
	return m
}

func (m *agentMetrics) recordWrite(outcome string) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(outcome).Inc()
}
