package cache

import (
	"github.com/c360/assetmesh/metric"
)

// Option configures a cache at construction.
type Option[V any] func(*cacheOptions[V])

// cacheOptions collects construction settings. Statistics are always
// collected; only the Prometheus export and the eviction callback are
// opt-in.
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
}

// WithMetrics additionally exports the cache counters to Prometheus,
// labeled with prefix as the component. Ignored when registry is nil or
// prefix is empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback observes entries leaving the cache. See
// EvictCallback for the invocation contract.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
