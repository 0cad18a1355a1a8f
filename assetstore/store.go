package assetstore

import (
	"context"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/config"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/natsclient"
)

// AttributeUpdateFunc mutates an attribute in place. It runs with the asset
// loaded and the attribute located; returning an error aborts the update and
// nothing is persisted. Implementations must be safe to re-run: under
// optimistic concurrency the function is re-applied to fresh state after a
// conflict.
type AttributeUpdateFunc func(a *asset.Asset, attr *asset.Attribute) error

// Store provides persistence for assets and their attribute values.
//
// UpdateAttribute is the pipeline's write path: it loads the asset, locates
// the attribute, applies the update function and persists the result as one
// atomic step with respect to concurrent updates of the same asset. The
// ordering gate runs its timestamp checks inside the update function, so
// check-then-set cannot interleave with another writer.
type Store interface {
	// Get returns a snapshot of the asset. ErrAssetNotFound when absent.
	Get(ctx context.Context, assetID string) (*asset.Asset, error)

	// Put creates or replaces an asset.
	Put(ctx context.Context, a *asset.Asset) error

	// Delete removes an asset. Deleting an absent asset is not an error.
	Delete(ctx context.Context, assetID string) error

	// List returns snapshots of all stored assets.
	List(ctx context.Context) ([]*asset.Asset, error)

	// UpdateAttribute atomically applies update to one attribute and
	// persists the asset. Returns the updated asset snapshot.
	// ErrAssetNotFound / ErrAttributeNotFound when the target is missing.
	UpdateAttribute(ctx context.Context, ref asset.AttributeRef, update AttributeUpdateFunc) (*asset.Asset, error)

	// Close releases store resources.
	Close() error
}

// New builds a Store from storage configuration. Memory mode needs no NATS
// client; kv and hybrid modes require a connected client.
func New(ctx context.Context, cfg config.StorageConfig, client *natsclient.Client, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case "", config.StorageModeMemory:
		return NewMemoryStore(), nil

	case config.StorageModeKV:
		return NewKVStore(ctx, client, cfg.Assets)

	case config.StorageModeHybrid:
		inner, err := NewKVStore(ctx, client, cfg.Assets)
		if err != nil {
			return nil, err
		}
		return NewCachedStore(ctx, inner, cfg.Cache, logger)

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"assetstore", "New", "unknown storage mode "+cfg.Mode)
	}
}

// NewRecorder builds a datapoint Recorder matching the storage mode: a
// bounded in-memory recorder for memory mode, the temporal KV store
// otherwise.
func NewRecorder(ctx context.Context, cfg config.StorageConfig, client *natsclient.Client) (Recorder, error) {
	switch cfg.Mode {
	case "", config.StorageModeMemory:
		return NewMemoryRecorder(0), nil

	case config.StorageModeKV, config.StorageModeHybrid:
		return NewDatapointStore(ctx, client, cfg.Datapoints)

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"assetstore", "NewRecorder", "unknown storage mode "+cfg.Mode)
	}
}
