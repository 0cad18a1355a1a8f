// Package agent routes accepted client writes on protocol-linked attributes
// to the owning protocol implementation.
package agent

import (
	"context"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
)

// LinkRouter is the slice of the protocol link registry the consumer uses.
type LinkRouter interface {
	// LinkedConfiguration returns the configuration an attribute is linked
	// to, if any.
	LinkedConfiguration(ref asset.AttributeRef) (asset.AttributeRef, bool)

	// ProcessLinkedWrite routes a write on a linked attribute to the owning
	// protocol implementation.
	ProcessLinkedWrite(ctx context.Context, state *asset.AssetState) error
}

// Consumer forwards southbound writes on linked attributes to their owning
// protocol and claims the record. Northbound updates and unlinked attributes
// fall through untouched: a device's own confirmation re-enters the pipeline
// as a fresh northbound event and must reach the remaining consumers.
type Consumer struct {
	router  LinkRouter
	logger  *slog.Logger
	metrics *agentMetrics
}

// New creates the agent consumer.
func New(router LinkRouter, logger *slog.Logger, registry *metric.MetricsRegistry) (*Consumer, error) {
	if router == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "AgentConsumer", "New", "link router validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		router:  router,
		logger:  logger.With("consumer", "agent"),
		metrics: newAgentMetrics(registry),
	}, nil
}

// Name identifies the consumer in dispatch outcomes.
func (c *Consumer) Name() string {
	return "agent"
}

// Accept routes a southbound write on a linked attribute to its protocol and
// sets status HANDLED. Everything else falls through.
func (c *Consumer) Accept(ctx context.Context, state *asset.AssetState) error {
	if state.Northbound {
		return nil
	}

	ref := state.Ref()
	configRef, linked := c.router.LinkedConfiguration(ref)
	if !linked {
		return nil
	}

	if err := c.router.ProcessLinkedWrite(ctx, state); err != nil {
		c.metrics.recordWrite("error")
		return errors.Wrap(err, "AgentConsumer", "Accept", "route linked write")
	}

	state.SetHandled(c.Name())
	c.metrics.recordWrite("handled")
	c.logger.Debug("linked write routed",
		"attribute", ref.String(), "config", configRef.String())
	return nil
}
