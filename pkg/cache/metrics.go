package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
)

// recorder fans cache events out to the always-on Statistics and, when
// export is configured, to Prometheus. Implementations call it instead
// of tracking both sinks at every operation.
type recorder struct {
	stats   *Statistics
	metrics *cacheMetrics
}

// newRecorder builds the statistics sink and, when a registry and prefix
// are given, registers the Prometheus collectors behind it.
func newRecorder(registry *metric.MetricsRegistry, prefix string) (*recorder, error) {
	r := &recorder{stats: NewStatistics()}
	if registry == nil || prefix == "" {
		return r, nil
	}

	m, err := newCacheMetrics(registry, prefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "cache", "newRecorder", "metrics registration")
	}
	r.metrics = m
	return r, nil
}

func (r *recorder) hit() {
	r.stats.Hit()
	if r.metrics != nil {
		r.metrics.hits.Inc()
	}
}

func (r *recorder) miss() {
	r.stats.Miss()
	if r.metrics != nil {
		r.metrics.misses.Inc()
	}
}

func (r *recorder) set() {
	r.stats.Set()
	if r.metrics != nil {
		r.metrics.sets.Inc()
	}
}

func (r *recorder) delete() {
	r.stats.Delete()
	if r.metrics != nil {
		r.metrics.deletes.Inc()
	}
}

func (r *recorder) evict() {
	r.stats.Eviction()
	if r.metrics != nil {
		r.metrics.evictions.Inc()
	}
}

func (r *recorder) resize(n int) {
	r.stats.UpdateSize(int64(n))
	if r.metrics != nil {
		r.metrics.size.Set(float64(n))
	}
}

// cacheMetrics holds the Prometheus collectors for one cache instance,
// distinguished from other caches by the component label.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "assetmesh",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:      counter("hits_total", "Lookups that found a live entry"),
		misses:    counter("misses_total", "Lookups that found nothing or an expired entry"),
		sets:      counter("sets_total", "Entries written"),
		deletes:   counter("deletes_total", "Entries explicitly removed"),
		evictions: counter("evictions_total", "Entries dropped by capacity or expiry"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "assetmesh",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Entries currently stored",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_deletes":   m.deletes,
		"cache_evictions": m.evictions,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}
