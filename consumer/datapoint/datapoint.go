// Package datapoint records accepted updates of history-flagged attributes
// into their time series.
package datapoint

import (
	"context"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
)

// Consumer appends {value, timestamp} samples for attributes flagged
// StoreDatapoints. Value clears are not recorded; the series keeps real
// samples only. Never claims a record.
type Consumer struct {
	recorder assetstore.Recorder
	logger   *slog.Logger
	metrics  *datapointMetrics
}

// New creates the datapoint consumer.
func New(recorder assetstore.Recorder, logger *slog.Logger, registry *metric.MetricsRegistry) (*Consumer, error) {
	if recorder == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "DatapointConsumer", "New", "recorder validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		recorder: recorder,
		logger:   logger.With("consumer", "datapoint"),
		metrics:  newDatapointMetrics(registry),
	}, nil
}

// Name identifies the consumer in dispatch outcomes.
func (c *Consumer) Name() string {
	return "datapoint"
}

// Accept appends one sample when the attribute is flagged for history and
// the update carries a value.
func (c *Consumer) Accept(ctx context.Context, state *asset.AssetState) error {
	attr := state.Attribute()
	if attr == nil || !attr.Meta.StoreDatapoints || state.Value.IsNil() {
		return nil
	}

	ref := state.Ref()
	if err := c.recorder.Append(ctx, ref, state.Value, state.Timestamp); err != nil {
		c.metrics.recordSample("error")
		return errors.Wrap(err, "DatapointConsumer", "Accept", "append datapoint")
	}

	c.metrics.recordSample("ok")
	c.logger.Debug("datapoint recorded", "attribute", ref.String(), "timestamp", state.Timestamp)
	return nil
}
