package cache

import (
	"github.com/c360/assetmesh/errors"
)

// Cache is the contract shared by every strategy. Implementations are
// safe for concurrent use.
type Cache[V any] interface {
	// Get retrieves a value by key. The second return is false on a miss
	// or when the entry has expired.
	Get(key string) (V, bool)

	// Set stores a value under key, refreshing recency and expiry.
	// Returns true when a new entry was created, false on overwrite.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. Returns true when the key was present.
	Delete(key string) (bool, error)

	// Clear removes every entry.
	Clear() error

	// Size returns the number of stored entries, including entries that
	// have expired but not yet been swept.
	Size() int

	// Keys lists the live keys, most recently used first for bounded
	// strategies. Expired entries are excluded.
	Keys() []string

	// Stats returns the always-on statistics, or nil for the noop cache.
	Stats() *Statistics

	// Close releases background resources. Required for strategies with
	// a sweeper goroutine; a no-op otherwise.
	Close() error
}

// EvictCallback observes entries leaving the cache through capacity
// eviction, expiry, Delete, or Clear. It is invoked outside cache locks,
// so callbacks may touch the cache, but must tolerate running
// concurrently with other operations.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
