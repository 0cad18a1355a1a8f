package processing

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
)

type processingMetrics struct {
	eventsReceived  *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	eventsProcessed *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	queueDrops      prometheus.Counter
	dispatchSeconds prometheus.Histogram
}

func newProcessingMetrics(registry *metric.MetricsRegistry) *processingMetrics {
	if registry == nil {
		return nil
	}

	m := &processingMetrics{
		eventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetmesh",
				Subsystem: "processing",
				Name:      "events_received_total",
				Help:      "Attribute events received by ingress source",
			},
			[]string{"source"},
		),
		eventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetmesh",
				Subsystem: "processing",
				Name:      "events_rejected_total",
				Help:      "Attribute events rejected by the ordering gate",
			},
			[]string{"reason"},
		),
		eventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetmesh",
				Subsystem: "processing",
				Name:      "events_processed_total",
				Help:      "Accepted events by final processing outcome",
			},
			[]string{"outcome"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "assetmesh",
				Subsystem: "processing",
				Name:      "queue_depth",
				Help:      "Events waiting in the ingress queue",
			},
		),
		queueDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "assetmesh",
				Subsystem: "processing",
				Name:      "queue_drops_total",
				Help:      "Events dropped because the ingress queue was full",
			},
		),
		dispatchSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "assetmesh",
				Subsystem: "processing",
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent dispatching one event through the consumer chain",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registry.PrometheusRegistry().MustRegister(
		m.eventsReceived,
		m.eventsRejected,
		m.eventsProcessed,
		m.queueDepth,
		m.queueDrops,
		m.dispatchSeconds,
	)
	return m
}

func (m *processingMetrics) recordReceived(source string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(source).Inc()
}

func (m *processingMetrics) recordRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *processingMetrics) recordProcessed(outcome string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(outcome).Inc()
}

func (m *processingMetrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *processingMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

func (m *processingMetrics) observeDispatch(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchSeconds.Observe(seconds)
}

// rejectReason maps a gate rejection to its metric label.
func rejectReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrAssetNotFound):
		return "asset_not_found"
	case stderrors.Is(err, errors.ErrAttributeNotFound):
		return "attribute_not_found"
	case stderrors.Is(err, errors.ErrAgentUpdate):
		return "agent_update"
	case stderrors.Is(err, errors.ErrReadOnly):
		return "read_only"
	case stderrors.Is(err, errors.ErrInvalidExecutionRequest):
		return "invalid_execution_request"
	case stderrors.Is(err, errors.ErrFutureTimestamp):
		return "future_timestamp"
	case stderrors.Is(err, errors.ErrStaleTimestamp):
		return "stale_timestamp"
	case stderrors.Is(err, errors.ErrConstraintViolation):
		return "constraint_violation"
	case stderrors.Is(err, errors.ErrInvalidData):
		return "invalid_event"
	default:
		return "other"
	}
}
