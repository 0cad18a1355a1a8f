package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/assetmesh/errors"
)

// Strategy selects the eviction policy.
type Strategy string

const (
	// StrategySimple stores entries until they are deleted.
	StrategySimple Strategy = "simple"

	// StrategyLRU bounds the entry count, evicting least recently used.
	StrategyLRU Strategy = "lru"

	// StrategyTTL expires entries after a time-to-live.
	StrategyTTL Strategy = "ttl"

	// StrategyHybrid applies both the capacity bound and the TTL.
	StrategyHybrid Strategy = "hybrid"
)

// Config is the cache section of storage configuration.
type Config struct {
	// Enabled turns caching off entirely; a disabled config yields a
	// noop cache.
	Enabled bool `json:"enabled"`

	// Strategy selects the eviction policy.
	Strategy Strategy `json:"strategy"`

	// MaxSize bounds the entry count for lru and hybrid strategies.
	MaxSize int `json:"max_size"`

	// TTL is the entry lifetime for ttl and hybrid strategies.
	TTL time.Duration `json:"ttl"`

	// CleanupInterval is how often the sweeper drops expired entries.
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// DefaultConfig returns the configuration the storage layer starts from.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Strategy:        StrategyLRU,
		MaxSize:         1000,
		TTL:             5 * time.Minute,
		CleanupInterval: 1 * time.Minute,
	}
}

// Validate checks that the selected strategy has the bounds it needs.
// A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Strategy {
	case StrategySimple, StrategyLRU, StrategyTTL, StrategyHybrid:
	default:
		return invalidConfig(fmt.Sprintf("unknown cache strategy: %s", c.Strategy))
	}

	if (c.Strategy == StrategyLRU || c.Strategy == StrategyHybrid) && c.MaxSize <= 0 {
		return invalidConfig(fmt.Sprintf(
			"max_size must be positive for %s cache, got %d", c.Strategy, c.MaxSize))
	}
	if c.Strategy == StrategyTTL || c.Strategy == StrategyHybrid {
		if c.TTL <= 0 {
			return invalidConfig(fmt.Sprintf(
				"ttl must be positive for %s cache, got %v", c.Strategy, c.TTL))
		}
		if c.CleanupInterval <= 0 {
			return invalidConfig(fmt.Sprintf(
				"cleanup_interval must be positive for %s cache, got %v", c.Strategy, c.CleanupInterval))
		}
	}
	return nil
}

func invalidConfig(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate", msg)
}

// UnmarshalJSON accepts durations as strings ("1h") the way hand-written
// config files carry them, or as integer nanoseconds the way
// re-serialized KV config does.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		TTL             json.RawMessage `json:"ttl"`
		CleanupInterval json.RawMessage `json:"cleanup_interval"`
		*plain
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if c.TTL, err = durationValue(aux.TTL, "ttl"); err != nil {
		return err
	}
	if c.CleanupInterval, err = durationValue(aux.CleanupInterval, "cleanup_interval"); err != nil {
		return err
	}
	return nil
}

// durationValue decodes a JSON duration given as a Go duration string or
// integer nanoseconds. Absent and null both mean zero.
func durationValue(raw json.RawMessage, field string) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", field, err)
		}
		return d, nil
	}

	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return 0, fmt.Errorf("%s must be a duration string (e.g. \"1h\") or integer nanoseconds", field)
	}
	return time.Duration(ns), nil
}

// NewFromConfig builds the cache a validated config describes. A
// disabled config yields a noop cache, so callers need no nil checks.
func NewFromConfig[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation failed")
	}
	if !config.Enabled {
		return NewNoop[V](), nil
	}

	opts := applyOptions(options...)
	switch config.Strategy {
	case StrategySimple:
		return newStore[V](ctx, 0, 0, 0, opts)
	case StrategyLRU:
		return newStore[V](ctx, config.MaxSize, 0, 0, opts)
	case StrategyTTL:
		return newStore[V](ctx, 0, config.TTL, config.CleanupInterval, opts)
	case StrategyHybrid:
		return newStore[V](ctx, config.MaxSize, config.TTL, config.CleanupInterval, opts)
	default:
		// Unreachable after Validate; kept so a future strategy cannot
		// silently fall through.
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "cache", "NewFromConfig",
			fmt.Sprintf("unsupported cache strategy: %s", config.Strategy))
	}
}

// NewSimple creates an unbounded cache with no eviction.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	return newStore[V](context.Background(), 0, 0, 0, applyOptions(options...))
}

// NewLRU creates a cache bounded to maxSize entries, evicting the least
// recently used entry when full.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	return newStore[V](context.Background(), maxSize, 0, 0, applyOptions(options...))
}

// NewTTL creates a cache whose entries expire after ttl, swept every
// cleanupInterval. The sweeper exits when ctx is cancelled or the cache
// is closed.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	return newStore[V](ctx, 0, ttl, cleanupInterval, applyOptions(options...))
}

// newHybrid combines the capacity bound with expiry. Reached through
// NewFromConfig with StrategyHybrid.
func newHybrid[V any](
	ctx context.Context, maxSize int, ttl, cleanupInterval time.Duration,
	options ...Option[V],
) (Cache[V], error) {
	return newStore[V](ctx, maxSize, ttl, cleanupInterval, applyOptions(options...))
}

// NewNoop creates a cache that stores nothing and always misses, for
// deployments with caching disabled.
func NewNoop[V any]() Cache[V] {
	return noopCache[V]{}
}

type noopCache[V any] struct{}

func (noopCache[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}
func (noopCache[V]) Set(string, V) (bool, error) { return false, nil }
func (noopCache[V]) Delete(string) (bool, error) { return false, nil }
func (noopCache[V]) Clear() error                { return nil }
func (noopCache[V]) Size() int                   { return 0 }
func (noopCache[V]) Keys() []string              { return nil }
func (noopCache[V]) Stats() *Statistics          { return nil }
func (noopCache[V]) Close() error                { return nil }
