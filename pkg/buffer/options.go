package buffer

import (
	"github.com/c360/assetmesh/metric"
)

// Option configures a buffer at construction time.
type Option[T any] func(*options[T])

type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// registry and component enable Prometheus export when both are set.
	registry  *metric.MetricsRegistry
	component string
}

// WithOverflowPolicy overrides the default DropOldest policy.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.overflowPolicy = policy
	}
}

// WithDropCallback registers a callback invoked for every discarded item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = callback
	}
}

// WithMetrics exports buffer counters to Prometheus under the given
// component label. Ignored when registry is nil or component is empty.
func WithMetrics[T any](registry *metric.MetricsRegistry, component string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && component != "" {
			o.registry = registry
			o.component = component
		}
	}
}

func buildOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{
		overflowPolicy: DropOldest,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
