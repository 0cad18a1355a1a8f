package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/metric"
)

type gatewayMetrics struct {
	clientsConnected    prometheus.Gauge
	connectionsTotal    prometheus.Counter
	disconnectionsTotal *prometheus.CounterVec
	subscriptionsActive prometheus.Gauge
	messagesSent        *prometheus.CounterVec
	bytesSent           prometheus.Counter
	writesTotal         *prometheus.CounterVec
	denialsTotal        *prometheus.CounterVec
	redeliveriesTotal   prometheus.Counter
	droppedTotal        *prometheus.CounterVec
	broadcastSeconds    prometheus.Histogram
}

func newGatewayMetrics(registry *metric.MetricsRegistry) *gatewayMetrics {
	if registry == nil {
		return nil
	}

	m := &gatewayMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "clients_connected",
			Help:      "Number of currently connected WebSocket clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),
		disconnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"reason"}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "subscriptions_active",
			Help:      "Number of active event subscriptions across all clients",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "messages_sent_total",
			Help:      "Total envelopes sent to clients",
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to clients",
		}),
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "writes_total",
			Help:      "Client attribute writes by outcome",
		}, []string{"result"}),
		denialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "authorization_denials_total",
			Help:      "Authorization denials by request kind",
		}, []string{"kind"}),
		redeliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "redeliveries_total",
			Help:      "Data envelopes resent after a nack or ack timeout",
		}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "messages_dropped_total",
			Help:      "Envelopes dropped before delivery",
		}, []string{"reason"}),
		broadcastSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assetmesh",
			Subsystem: "gateway",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan a completion out to subscribed clients",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.clientsConnected,
		m.connectionsTotal,
		m.disconnectionsTotal,
		m.subscriptionsActive,
		m.messagesSent,
		m.bytesSent,
		m.writesTotal,
		m.denialsTotal,
		m.redeliveriesTotal,
		m.droppedTotal,
		m.broadcastSeconds,
	)

	return m
}

func (m *gatewayMetrics) recordConnect(active int) {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.clientsConnected.Set(float64(active))
}

func (m *gatewayMetrics) recordDisconnect(reason string, active, subscriptions int) {
	if m == nil {
		return
	}
	m.disconnectionsTotal.WithLabelValues(reason).Inc()
	m.clientsConnected.Set(float64(active))
	m.subscriptionsActive.Sub(float64(subscriptions))
}

func (m *gatewayMetrics) recordSubscribe() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Inc()
}

func (m *gatewayMetrics) recordUnsubscribe() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Dec()
}

func (m *gatewayMetrics) recordSent(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *gatewayMetrics) recordWrite(result string) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(result).Inc()
}

func (m *gatewayMetrics) recordDenial(kind string) {
	if m == nil {
		return
	}
	m.denialsTotal.WithLabelValues(kind).Inc()
}

func (m *gatewayMetrics) recordRedelivery() {
	if m == nil {
		return
	}
	m.redeliveriesTotal.Inc()
}

func (m *gatewayMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

func (m *gatewayMetrics) observeBroadcast(seconds float64) {
	if m == nil {
		return
	}
	m.broadcastSeconds.Observe(seconds)
}
