package assetstore

import (
	"context"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/pkg/cache"
)

// CachedStore fronts another Store with a read cache. The inner store stays
// the authority: writes go through it first and invalidate the cached entry,
// so a cache hit is at worst one write behind a concurrent peer and never
// behind this instance.
type CachedStore struct {
	inner  Store
	cache  cache.Cache[*asset.Asset]
	logger *slog.Logger
}

// NewCachedStore wraps inner with a cache built from cfg. A disabled cache
// config yields a pass-through (noop cache).
func NewCachedStore(ctx context.Context, inner Store, cfg cache.Config, logger *slog.Logger) (*CachedStore, error) {
	if inner == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"CachedStore", "NewCachedStore", "inner store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c, err := cache.NewFromConfig[*asset.Asset](ctx, cfg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "CachedStore", "NewCachedStore", "build cache")
	}

	return &CachedStore{
		inner:  inner,
		cache:  c,
		logger: logger,
	}, nil
}

// Get serves from cache when possible. Both cache fills and cache hits hand
// out deep copies so cached state is never aliased by callers.
func (s *CachedStore) Get(ctx context.Context, assetID string) (*asset.Asset, error) {
	if cached, ok := s.cache.Get(assetID); ok {
		return cached.Copy(), nil
	}

	a, err := s.inner.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.Set(assetID, a.Copy()); err != nil {
		s.logger.Debug("asset cache set failed", "asset_id", assetID, "error", err)
	}
	return a, nil
}

// Put writes through and drops the cached entry.
func (s *CachedStore) Put(ctx context.Context, a *asset.Asset) error {
	if err := s.inner.Put(ctx, a); err != nil {
		return err
	}
	if a != nil {
		_, _ = s.cache.Delete(a.ID)
	}
	return nil
}

// Delete removes from the inner store and the cache.
func (s *CachedStore) Delete(ctx context.Context, assetID string) error {
	if err := s.inner.Delete(ctx, assetID); err != nil {
		return err
	}
	_, _ = s.cache.Delete(assetID)
	return nil
}

// List always goes to the inner store; enumeration is rare and correctness
// beats latency there.
func (s *CachedStore) List(ctx context.Context) ([]*asset.Asset, error) {
	return s.inner.List(ctx)
}

// UpdateAttribute delegates to the inner store then invalidates, so the next
// read refetches the post-write state.
func (s *CachedStore) UpdateAttribute(
	ctx context.Context,
	ref asset.AttributeRef,
	update AttributeUpdateFunc,
) (*asset.Asset, error) {
	updated, err := s.inner.UpdateAttribute(ctx, ref, update)
	if err != nil {
		return nil, err
	}
	_, _ = s.cache.Delete(ref.AssetID)
	return updated, nil
}

// CacheStats exposes hit/miss statistics for observability.
func (s *CachedStore) CacheStats() *cache.Statistics {
	return s.cache.Stats()
}

// Close shuts down the cache and the inner store.
func (s *CachedStore) Close() error {
	if err := s.cache.Close(); err != nil {
		return err
	}
	return s.inner.Close()
}
