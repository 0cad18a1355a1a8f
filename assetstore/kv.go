package assetstore

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/config"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/natsclient"
)

// DefaultAssetBucket is the JetStream KV bucket holding asset state.
const DefaultAssetBucket = "assetmesh_assets"

// defaultAssetHistory keeps a few revisions per asset for recovery and
// temporal reads. NATS caps per-key history at 64.
const defaultAssetHistory = 5

// KVStore persists assets as JSON values in a JetStream KV bucket, one key
// per asset ID. UpdateAttribute uses a CAS loop so concurrent writers to the
// same asset re-run their update on fresh state instead of losing writes.
type KVStore struct {
	bucket jetstream.KeyValue
	kv     *natsclient.KVStore
}

// NewKVStore creates (or binds to) the asset bucket and returns a store.
func NewKVStore(ctx context.Context, client *natsclient.Client, cfg config.BucketConfig) (*KVStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"KVStore", "NewKVStore", "nats client cannot be nil")
	}

	name := cfg.Name
	if name == "" {
		name = DefaultAssetBucket
	}
	history := cfg.History
	if history <= 0 {
		history = defaultAssetHistory
	}
	if history > 64 {
		history = 64 // JetStream per-key history ceiling
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Asset state and attribute values",
		History:     uint8(history),
		TTL:         cfg.TTL,
		MaxBytes:    cfg.MaxBytes,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "NewKVStore", "create KV bucket")
	}

	return &KVStore{
		bucket: bucket,
		kv:     client.NewKVStore(bucket),
	}, nil
}

// Get retrieves and decodes an asset.
func (s *KVStore) Get(ctx context.Context, assetID string) (*asset.Asset, error) {
	if assetID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"KVStore", "Get", "asset ID cannot be empty")
	}

	entry, err := s.kv.Get(ctx, assetID)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrAssetNotFound, "KVStore", "Get", assetID)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "get from KV")
	}

	var a asset.Asset
	if err := json.Unmarshal(entry.Value, &a); err != nil {
		return nil, errors.WrapFatal(err, "KVStore", "Get", "unmarshal asset")
	}
	return &a, nil
}

// Put stores an asset, creating or replacing.
func (s *KVStore) Put(ctx context.Context, a *asset.Asset) error {
	if a == nil || a.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"KVStore", "Put", "asset with ID required")
	}

	data, err := json.Marshal(a)
	if err != nil {
		return errors.WrapFatal(err, "KVStore", "Put", "marshal asset")
	}

	if _, err := s.kv.Put(ctx, a.ID, data); err != nil {
		return errors.WrapTransient(err, "KVStore", "Put", "put to KV")
	}
	return nil
}

// Delete removes an asset. Absent keys delete silently.
func (s *KVStore) Delete(ctx context.Context, assetID string) error {
	if assetID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"KVStore", "Delete", "asset ID cannot be empty")
	}

	if err := s.kv.Delete(ctx, assetID); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil
		}
		return errors.WrapTransient(err, "KVStore", "Delete", "delete from KV")
	}
	return nil
}

// List retrieves all assets in the bucket.
func (s *KVStore) List(ctx context.Context) ([]*asset.Asset, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return []*asset.Asset{}, nil
		}
		return nil, errors.WrapTransient(err, "KVStore", "List", "list KV keys")
	}

	out := make([]*asset.Asset, 0, len(keys))
	for _, key := range keys {
		a, err := s.Get(ctx, key)
		if err != nil {
			// Deleted between Keys and Get; skip.
			if stderrors.Is(err, errors.ErrAssetNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// UpdateAttribute runs update inside a CAS loop. On revision conflict the
// asset is re-fetched and update re-applied, so the update function's
// timestamp checks always see the latest persisted state.
func (s *KVStore) UpdateAttribute(
	ctx context.Context,
	ref asset.AttributeRef,
	update AttributeUpdateFunc,
) (*asset.Asset, error) {
	if !ref.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"KVStore", "UpdateAttribute", "invalid attribute ref")
	}

	var updated *asset.Asset
	err := s.kv.UpdateWithRetry(ctx, ref.AssetID, func(current []byte) ([]byte, error) {
		if len(current) == 0 {
			return nil, errors.WrapInvalid(errors.ErrAssetNotFound,
				"KVStore", "UpdateAttribute", ref.String())
		}

		var a asset.Asset
		if err := json.Unmarshal(current, &a); err != nil {
			return nil, errors.WrapFatal(err, "KVStore", "UpdateAttribute", "unmarshal asset")
		}

		attr, ok := a.Attributes[ref.Name]
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrAttributeNotFound,
				"KVStore", "UpdateAttribute", ref.String())
		}

		if err := update(&a, attr); err != nil {
			return nil, err
		}

		data, err := json.Marshal(&a)
		if err != nil {
			return nil, errors.WrapFatal(err, "KVStore", "UpdateAttribute", "marshal asset")
		}
		updated = &a
		return data, nil
	})
	if err != nil {
		// Rejections from the update function keep their classification;
		// everything else is KV trouble.
		if errors.IsInvalid(err) || errors.IsFatal(err) {
			return nil, err
		}
		return nil, errors.WrapTransient(err, "KVStore", "UpdateAttribute", "CAS update")
	}
	return updated, nil
}

// Close is a no-op; the bucket rides the shared NATS connection.
func (s *KVStore) Close() error {
	return nil
}
