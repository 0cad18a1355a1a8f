// Package storage persists each accepted update's asset snapshot through the
// asset store.
package storage

import (
	"context"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
)

// Consumer writes the post-update asset snapshot back to the store. It never
// claims a record; a persistence failure surfaces to the dispatcher, which
// records ERROR on the state while the already-applied resident update
// stands.
type Consumer struct {
	store   assetstore.Store
	logger  *slog.Logger
	metrics *storageMetrics
}

// New creates the storage consumer.
func New(store assetstore.Store, logger *slog.Logger, registry *metric.MetricsRegistry) (*Consumer, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "StorageConsumer", "New", "store validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		store:   store,
		logger:  logger.With("consumer", "storage"),
		metrics: newStorageMetrics(registry),
	}, nil
}

// Name identifies the consumer in dispatch outcomes.
func (c *Consumer) Name() string {
	return "storage"
}

// Accept persists the snapshot carried by the record.
func (c *Consumer) Accept(ctx context.Context, state *asset.AssetState) error {
	if err := c.store.Put(ctx, state.Asset); err != nil {
		c.metrics.recordPersist("error")
		return errors.Wrap(err, "StorageConsumer", "Accept", "persist asset snapshot")
	}

	c.metrics.recordPersist("ok")
	c.logger.Debug("asset snapshot persisted",
		"asset", state.Asset.ID, "attribute", state.AttributeName)
	return nil
}
