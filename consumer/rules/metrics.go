package rules

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/metric"
)

type rulesMetrics struct {
	evaluationsTotal *prometheus.CounterVec
	writesTotal      *prometheus.CounterVec
	activeRules      prometheus.Gauge
}

func newRulesMetrics(registry *metric.MetricsRegistry) *rulesMetrics {
	if registry == nil {
		return nil
	}

	m := &rulesMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetmesh",
				Subsystem: "consumer_rules",
				Name:      "evaluations_total",
				Help:      "Rule evaluations by rule name and result",
			},
			[]string{"rule_name", "result"},
		),
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetmesh",
				Subsystem: "consumer_rules",
				Name:      "writes_total",
				Help:      "Attribute writes emitted by matched rules",
			},
			[]string{"rule_name"},
		),
		activeRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "assetmesh",
				Subsystem: "consumer_rules",
				Name:      "active_rules",
				Help:      "Number of installed rules",
			},
		),
	}

	registry.PrometheusRegistry().MustRegister(m.evaluationsTotal, m.writesTotal, m.activeRules)
	return m
}

func (m *rulesMetrics) recordEvaluation(rule, result string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(rule, result).Inc()
}

func (m *rulesMetrics) recordWrite(rule string) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(rule).Inc()
}

func (m *rulesMetrics) setActiveRules(n int) {
	if m == nil {
		return
	}
	m.activeRules.Set(float64(n))
}
