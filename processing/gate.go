package processing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/assetstore"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/pkg/timestamp"
)

// futureToleranceMs bounds how far ahead of the gate clock an event
// timestamp may run before it is rejected.
const futureToleranceMs = 1000

// Gate is the ordering gate every attribute event passes before dispatch.
// It resolves the target attribute, enforces direction and timestamp rules,
// validates the value and applies the write, all inside one atomic store
// update so check-then-set cannot interleave with a concurrent writer.
type Gate struct {
	store   assetstore.Store
	clock   func() int64
	logger  *slog.Logger
	metrics *processingMetrics
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the gate clock (epoch milliseconds). Tests pin it to
// exercise the timestamp boundaries.
func WithClock(clock func() int64) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate creates the ordering gate.
func NewGate(store assetstore.Store, logger *slog.Logger, metrics *processingMetrics, opts ...GateOption) (*Gate, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gate", "NewGate", "store validation")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gate{
		store:   store,
		clock:   timestamp.Now,
		logger:  logger.With("component", "gate"),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Submit validates one event and applies it to the store. A rejection drops
// the event: it is logged, counted and returned as an error, never retried.
// On acceptance the returned state carries the applied update and the
// previous value for the consumer chain.
func (g *Gate) Submit(ctx context.Context, event asset.AttributeEvent, northbound bool) (*asset.AssetState, error) {
	if err := event.Validate(); err != nil {
		err = errors.WrapInvalid(err, "Gate", "Submit", "event validation")
		g.reject(event, err)
		return nil, err
	}

	var state *asset.AssetState
	_, err := g.store.UpdateAttribute(ctx, event.Ref(), func(a *asset.Asset, attr *asset.Attribute) error {
		if a.IsAgent() {
			return errors.WrapInvalid(
				fmt.Errorf("%w: asset %s", errors.ErrAgentUpdate, a.ID),
				"Gate", "Submit", "agent asset check")
		}

		if !northbound {
			if attr.Meta.ReadOnly {
				return errors.WrapInvalid(
					fmt.Errorf("%w: %s", errors.ErrReadOnly, event.Ref().String()),
					"Gate", "Submit", "read-only check")
			}
			if attr.Meta.Executable {
				status, ok := asset.ExecuteStatusFromValue(event.Value)
				if !ok || !status.IsWriteRequest() {
					return errors.WrapInvalid(
						fmt.Errorf("%w: %s", errors.ErrInvalidExecutionRequest, event.Ref().String()),
						"Gate", "Submit", "execution request check")
				}
			}
		}

		if now := g.clock(); event.Timestamp > now+futureToleranceMs {
			return errors.WrapInvalid(
				fmt.Errorf("%w: event %d ms ahead of gate clock", errors.ErrFutureTimestamp, event.Timestamp-now),
				"Gate", "Submit", "future timestamp check")
		}
		if attr.HasTimestamp() && event.Timestamp <= attr.Timestamp {
			return errors.WrapInvalid(
				fmt.Errorf("%w: event %d, recorded %d", errors.ErrStaleTimestamp, event.Timestamp, attr.Timestamp),
				"Gate", "Submit", "staleness check")
		}

		oldValue := attr.Value.Copy()
		oldTimestamp := attr.Timestamp
		if err := attr.SetValue(event.Value, event.Timestamp); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrConstraintViolation, err),
				"Gate", "Submit", "descriptor validation")
		}

		// Under optimistic concurrency this closure can re-run on fresh
		// state; the last run's snapshot is the one that was persisted.
		state = asset.NewAssetState(a, attr.Name, oldValue, oldTimestamp, event.Value, event.Timestamp, northbound)
		return nil
	})
	if err != nil {
		g.reject(event, err)
		return nil, err
	}

	return state, nil
}

func (g *Gate) reject(event asset.AttributeEvent, err error) {
	reason := rejectReason(err)
	g.metrics.recordRejected(reason)
	g.logger.Warn("event rejected",
		"asset", event.AssetID,
		"attribute", event.Attribute,
		"reason", reason,
		"error", err,
	)
}
