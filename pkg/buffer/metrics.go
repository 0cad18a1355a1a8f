package buffer

import (
	"github.com/c360/assetmesh/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// bufferMetrics mirrors the Statistics counters into Prometheus. The
// two are tracked independently so stats stay available when metrics
// are disabled.
type bufferMetrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	peeks     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, component string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": component}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "assetmesh",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "assetmesh",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &bufferMetrics{
		writes:      counter("writes_total", "Total buffer write operations"),
		reads:       counter("reads_total", "Total buffer read operations"),
		peeks:       counter("peeks_total", "Total buffer peek operations"),
		overflows:   counter("overflows_total", "Writes that arrived at a full buffer"),
		drops:       counter("drops_total", "Items discarded by the overflow policy"),
		size:        gauge("size", "Current number of buffered items"),
		utilization: gauge("utilization", "Occupancy relative to capacity, 0 to 1"),
	}

	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"buffer_writes", m.writes},
		{"buffer_reads", m.reads},
		{"buffer_peeks", m.peeks},
		{"buffer_overflows", m.overflows},
		{"buffer_drops", m.drops},
	}
	for _, c := range counters {
		if err := registry.RegisterCounter(component, c.name, c.c); err != nil {
			return nil, err
		}
	}

	gauges := []struct {
		name string
		g    prometheus.Gauge
	}{
		{"buffer_size", m.size},
		{"buffer_utilization", m.utilization},
	}
	for _, g := range gauges {
		if err := registry.RegisterGauge(component, g.name, g.g); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordPeek() {
	m.peeks.Inc()
}

func (m *bufferMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
