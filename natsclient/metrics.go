package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/metric"
)

// clientMetrics exports connection health and KV bucket occupancy. Bucket
// gauges answer the operational question "how big has the asset state
// grown": entries and bytes per bucket, polled in the background. All
// methods tolerate a nil receiver so callers never have to guard on
// whether metrics are enabled.
type clientMetrics struct {
	connected  prometheus.Gauge
	reconnects prometheus.Counter
	rtt        prometheus.Gauge

	bucketValues *prometheus.GaugeVec
	bucketBytes  *prometheus.GaugeVec
	opErrors     *prometheus.CounterVec

	mu      sync.RWMutex
	buckets map[string]jetstream.KeyValue
}

func newClientMetrics(registry *metric.MetricsRegistry) (*clientMetrics, error) {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assetmesh",
			Subsystem: "nats",
			Name:      name,
			Help:      help,
		})
	}

	m := &clientMetrics{
		connected: gauge("connected", "Whether the NATS connection is up (1) or down (0)"),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Automatic reconnects since the client started",
		}),
		rtt: gauge("rtt_seconds", "Round-trip time to the NATS server"),

		bucketValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "assetmesh",
			Subsystem: "nats",
			Name:      "kv_bucket_values",
			Help:      "Entries currently stored in the KV bucket",
		}, []string{"bucket"}),

		bucketBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "assetmesh",
			Subsystem: "nats",
			Name:      "kv_bucket_bytes",
			Help:      "Storage bytes used by the KV bucket",
		}, []string{"bucket"}),

		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetmesh",
			Subsystem: "nats",
			Name:      "operation_errors_total",
			Help:      "Failed bucket operations by operation name",
		}, []string{"operation"}),

		buckets: make(map[string]jetstream.KeyValue),
	}

	if err := registry.RegisterGauge("natsclient", "connected", m.connected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("natsclient", "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("natsclient", "rtt", m.rtt); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("natsclient", "kv_bucket_values", m.bucketValues); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("natsclient", "kv_bucket_bytes", m.bucketBytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("natsclient", "operation_errors", m.opErrors); err != nil {
		return nil, err
	}

	return m, nil
}

// trackBucket adds a bucket to the occupancy poller.
func (m *clientMetrics) trackBucket(name string, bucket jetstream.KeyValue) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[name] = bucket
}

// untrackBucket stops polling a deleted bucket and clears its gauges.
func (m *clientMetrics) untrackBucket(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, name)
	m.bucketValues.DeleteLabelValues(name)
	m.bucketBytes.DeleteLabelValues(name)
}

func (m *clientMetrics) recordError(operation string) {
	if m != nil {
		m.opErrors.WithLabelValues(operation).Inc()
	}
}

func (m *clientMetrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *clientMetrics) recordReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *clientMetrics) observeRTT(rtt time.Duration) {
	if m != nil {
		m.rtt.Set(rtt.Seconds())
	}
}

// updateBucketStats refreshes occupancy gauges for every tracked bucket.
// A bucket that fails to report keeps its last observed values.
func (m *clientMetrics) updateBucketStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	buckets := make(map[string]jetstream.KeyValue, len(m.buckets))
	for name, bucket := range m.buckets {
		buckets[name] = bucket
	}
	m.mu.RUnlock()

	for name, bucket := range buckets {
		status, err := bucket.Status(ctx)
		if err != nil {
			continue
		}
		m.bucketValues.WithLabelValues(name).Set(float64(status.Values()))
		m.bucketBytes.WithLabelValues(name).Set(float64(status.Bytes()))
	}
}

// startPoller refreshes bucket stats on a timer until the returned cancel
// function is called.
func (m *clientMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateBucketStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
