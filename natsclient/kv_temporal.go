package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/assetmesh/pkg/cache"
)

// TemporalResolver answers "what did this key hold at time T" against a KV
// bucket with history enabled. Revision histories are cached with a short
// TTL so a burst of queries for the same asset reads the bucket once.
type TemporalResolver struct {
	bucket       jetstream.KeyValue
	historyCache cache.Cache[[]jetstream.KeyValueEntry]
}

type resolverConfig struct {
	historyTTL time.Duration
}

// ResolverOption configures a TemporalResolver.
type ResolverOption func(*resolverConfig)

// WithHistoryTTL sets how long fetched revision histories stay cached.
// Longer TTLs trade staleness for fewer bucket reads.
func WithHistoryTTL(d time.Duration) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.historyTTL = d
	}
}

// NewTemporalResolver builds a resolver over a history-enabled bucket. The
// context bounds the lifetime of the cache's background sweeper.
func NewTemporalResolver(ctx context.Context, bucket jetstream.KeyValue, opts ...ResolverOption) *TemporalResolver {
	cfg := resolverConfig{historyTTL: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.historyTTL <= 0 {
		cfg.historyTTL = 5 * time.Second
	}

	sweep := cfg.historyTTL / 5
	if sweep < time.Second {
		sweep = time.Second
	}

	histCache, err := cache.NewTTL[[]jetstream.KeyValueEntry](ctx, cfg.historyTTL, sweep)
	if err != nil {
		// Both durations are clamped positive above, so this cannot fail.
		panic(fmt.Sprintf("temporal resolver cache: %v", err))
	}

	return &TemporalResolver{
		bucket:       bucket,
		historyCache: histCache,
	}
}

// history returns the revision history for key, cached.
func (tr *TemporalResolver) history(ctx context.Context, key string) ([]jetstream.KeyValueEntry, error) {
	if cached, found := tr.historyCache.Get(key); found {
		return cached, nil
	}

	entries, err := tr.bucket.History(ctx, key)
	if err != nil {
		return nil, err
	}

	if _, err := tr.historyCache.Set(key, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetAtTimestamp returns the revision that was current at targetTime: the
// newest revision created at or before it. A target older than all history
// returns the oldest revision. Returns ErrKVKeyNotFound for unknown keys.
func (tr *TemporalResolver) GetAtTimestamp(ctx context.Context, key string, targetTime time.Time) (jetstream.KeyValueEntry, error) {
	history, err := tr.history(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrKVKeyNotFound
	}

	if targetTime.Before(history[0].Created()) {
		return history[0], nil
	}
	last := len(history) - 1
	if !history[last].Created().After(targetTime) {
		return history[last], nil
	}

	// Binary search for the newest revision created at or before the
	// target; bias mid right so left converges on the floor.
	left, right := 0, last
	for left < right {
		mid := left + (right-left+1)/2
		if history[mid].Created().After(targetTime) {
			right = mid - 1
		} else {
			left = mid
		}
	}
	return history[left], nil
}

// SnapshotAt reconstructs the state of several keys at one timestamp, for
// example every asset in a room as of last midnight. Keys that did not
// exist at that time are absent from the result.
func (tr *TemporalResolver) SnapshotAt(ctx context.Context, keys []string, targetTime time.Time) (map[string]jetstream.KeyValueEntry, error) {
	results := make(map[string]jetstream.KeyValueEntry, len(keys))
	for _, key := range keys {
		entry, err := tr.GetAtTimestamp(ctx, key, targetTime)
		if err != nil {
			if err == ErrKVKeyNotFound {
				continue
			}
			return nil, fmt.Errorf("snapshot %s: %w", key, err)
		}
		results[key] = entry
	}
	return results, nil
}

// GetInTimeRange returns the revisions of key created within (start, end],
// oldest first.
func (tr *TemporalResolver) GetInTimeRange(ctx context.Context, key string, start, end time.Time) ([]jetstream.KeyValueEntry, error) {
	history, err := tr.history(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	var results []jetstream.KeyValueEntry
	for _, entry := range history {
		created := entry.Created()
		if created.After(start) && !created.After(end) {
			results = append(results, entry)
		}
	}
	return results, nil
}

// CacheStats exposes history-cache statistics for monitoring.
func (tr *TemporalResolver) CacheStats() *cache.Statistics {
	return tr.historyCache.Stats()
}

// Close releases the history cache and its sweeper goroutine.
func (tr *TemporalResolver) Close() error {
	return tr.historyCache.Close()
}
