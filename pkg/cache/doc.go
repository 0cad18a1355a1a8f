// Package cache provides generic, thread-safe in-memory caches with
// pluggable eviction, built-in statistics, and optional Prometheus metrics.
//
// The platform uses it on the asset read path: in hybrid storage mode a
// [Cache] fronts the JetStream KV asset bucket so repeated Get calls for
// the same asset skip the round trip, and the temporal KV layer keeps a
// bounded cache of recently read history windows.
//
// # Strategies
//
// Four strategies share one implementation behind the [Cache] interface,
// differing only in which bounds they set:
//
//   - Simple: no eviction, entries live until deleted
//   - LRU: least recently used eviction at a capacity bound
//   - TTL: entries expire after a time-to-live, swept in the background
//   - Hybrid: LRU capacity bound and TTL expiry combined
//
// Construct one directly:
//
//	c, err := cache.NewLRU[*asset.Asset](1000)
//
// or from configuration, which is how the storage layer does it:
//
//	c, err := cache.NewFromConfig[*asset.Asset](ctx, cfg,
//		cache.WithMetrics[*asset.Asset](registry, "asset_store"),
//	)
//
// [Config] selects the strategy and bounds; its Validate method catches
// nonsense like a TTL strategy without a TTL before any cache is built.
// [NewNoop] returns a cache that stores nothing, used when caching is
// disabled so callers need no nil checks.
//
// # Options
//
//   - WithMetrics: export hit/miss/set/delete/eviction counters and a size
//     gauge to Prometheus, labeled by component
//   - WithEvictionCallback: observe evicted entries, called outside locks
//
// # Observability
//
// Statistics are always on and lock-free; read them with Stats():
//
//	stats := c.Stats()
//	ratio := stats.HitRatio()
//	snapshot := stats.Summary()
//
// Prometheus export is separate and optional. The two track independently:
// statistics stay available in tests and minimal deployments, and provide
// derived values (hit ratio, request rate) that raw counters do not.
//
// # Lifecycle
//
// TTL and Hybrid caches run a background sweep goroutine bound to the
// context passed at construction; cancel it or call Close to stop the
// sweeper. Simple and LRU caches have no background work. All operations
// on every implementation are safe for concurrent use.
package cache
