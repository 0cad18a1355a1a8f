package processing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
)

// Consumer is one stage of the processing chain. Accept may mutate the
// record's status: setting HANDLED claims the record and stops the chain,
// returning an error fails it. Consumers must not block indefinitely.
type Consumer interface {
	Name() string
	Accept(ctx context.Context, state *asset.AssetState) error
}

// CompletionPublisher announces records that cleared the whole chain.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, completion asset.CompletionEvent) error
}

// Dispatcher walks an accepted record through the consumer chain in order.
// The chain is fixed at construction; order is part of the processing
// contract, not discovery.
type Dispatcher struct {
	consumers   []Consumer
	completions CompletionPublisher
	logger      *slog.Logger
	metrics     *processingMetrics
}

// NewDispatcher creates a dispatcher over the given chain. The completion
// publisher may be nil when completions have no audience (tests, tools).
func NewDispatcher(consumers []Consumer, completions CompletionPublisher, logger *slog.Logger, metrics *processingMetrics) (*Dispatcher, error) {
	for i, c := range consumers {
		if c == nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
				"Dispatcher", "NewDispatcher", fmt.Sprintf("nil consumer at position %d", i))
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		consumers:   consumers,
		completions: completions,
		logger:      logger.With("component", "dispatcher"),
		metrics:     metrics,
	}, nil
}

// Dispatch runs the record through the chain synchronously and returns the
// terminal status. A consumer error or panic marks the record ERROR and
// stops the chain; HANDLED stops it without error. Only records that fall
// through every consumer become COMPLETED and are announced on the
// completed subject.
func (d *Dispatcher) Dispatch(ctx context.Context, state *asset.AssetState) asset.ProcessingStatus {
	start := time.Now()

	for _, consumer := range d.consumers {
		if err := d.accept(ctx, consumer, state); err != nil {
			state.SetError(consumer.Name(), err)
			d.logger.Error("consumer failed",
				"consumer", consumer.Name(),
				"asset", state.Asset.ID,
				"attribute", state.AttributeName,
				"error", err,
			)
			break
		}
		if state.Status().Terminal() {
			break
		}
	}

	if state.Status() == asset.StatusPending {
		state.SetCompleted()
	}

	status := state.Status()
	d.metrics.recordProcessed(string(status))
	d.metrics.observeDispatch(time.Since(start).Seconds())

	if status == asset.StatusCompleted {
		d.announce(ctx, state)
	}

	return status
}

// accept shields the chain from a panicking consumer.
func (d *Dispatcher) accept(ctx context.Context, consumer Consumer, state *asset.AssetState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(
				fmt.Errorf("%w: consumer %s panicked: %v", errors.ErrConsumerFailure, consumer.Name(), r),
				"Dispatcher", "Dispatch", "consumer panic")
		}
	}()
	return consumer.Accept(ctx, state)
}

func (d *Dispatcher) announce(ctx context.Context, state *asset.AssetState) {
	if d.completions == nil {
		return
	}
	completion := state.Event().Completion()
	if err := d.completions.PublishCompletion(ctx, completion); err != nil {
		d.logger.Warn("completion publish failed",
			"asset", state.Asset.ID,
			"attribute", state.AttributeName,
			"error", err,
		)
	}
}
