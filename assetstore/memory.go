package assetstore

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
)

// MemoryStore keeps assets in a map guarded by a RWMutex. All reads and
// writes go through deep copies so callers never alias resident state.
// Suitable for single-node deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]*asset.Asset
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[string]*asset.Asset),
	}
}

// Get returns a deep copy of the asset.
func (s *MemoryStore) Get(_ context.Context, assetID string) (*asset.Asset, error) {
	if assetID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"MemoryStore", "Get", "asset ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[assetID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrAssetNotFound,
			"MemoryStore", "Get", assetID)
	}
	return a.Copy(), nil
}

// Put stores a deep copy of the asset, creating or replacing.
func (s *MemoryStore) Put(_ context.Context, a *asset.Asset) error {
	if a == nil || a.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"MemoryStore", "Put", "asset with ID required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets[a.ID] = a.Copy()
	return nil
}

// Delete removes an asset. Absent assets delete silently.
func (s *MemoryStore) Delete(_ context.Context, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.assets, assetID)
	return nil
}

// List returns deep copies of all assets, ordered by ID for stable output.
func (s *MemoryStore) List(_ context.Context) ([]*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*asset.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateAttribute applies update under the store's write lock, so concurrent
// updates of the same attribute serialize here.
func (s *MemoryStore) UpdateAttribute(
	_ context.Context,
	ref asset.AttributeRef,
	update AttributeUpdateFunc,
) (*asset.Asset, error) {
	if !ref.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"MemoryStore", "UpdateAttribute", "invalid attribute ref")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[ref.AssetID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrAssetNotFound,
			"MemoryStore", "UpdateAttribute", ref.String())
	}

	// Work on a copy so a failed update leaves resident state untouched.
	work := a.Copy()
	workAttr, ok := work.Attributes[ref.Name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrAttributeNotFound,
			"MemoryStore", "UpdateAttribute", ref.String())
	}

	if err := update(work, workAttr); err != nil {
		return nil, err
	}

	s.assets[ref.AssetID] = work
	return work.Copy(), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
