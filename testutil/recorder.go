package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c360/assetmesh/asset"
)

// NorthboundEvent is one recorded PublishNorthbound call: the protocol the
// event was published for and the event itself.
type NorthboundEvent struct {
	Protocol string
	Event    asset.AttributeEvent
}

// EventRecorder captures the event traffic a component under test emits.
// It satisfies protocol.Publisher, the rules consumer's EventSender and the
// dispatcher's CompletionPublisher, so one recorder can sit on every
// outbound edge of a wiring. Thread-safe for concurrent use.
type EventRecorder struct {
	mu          sync.RWMutex
	northbound  []NorthboundEvent
	sent        []asset.AttributeEvent
	completions []asset.CompletionEvent
	err         error
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// FailWith makes every subsequent call return err. Pass nil to clear.
func (r *EventRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// PublishNorthbound records a device-origin event (protocol.Publisher).
func (r *EventRecorder) PublishNorthbound(_ context.Context, protocol string, event asset.AttributeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.northbound = append(r.northbound, NorthboundEvent{Protocol: protocol, Event: event})
	return nil
}

// SendAttributeEvent records a southbound write (rules.EventSender).
func (r *EventRecorder) SendAttributeEvent(_ context.Context, event asset.AttributeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, event)
	return nil
}

// PublishCompletion records a completion (processing.CompletionPublisher).
func (r *EventRecorder) PublishCompletion(_ context.Context, completion asset.CompletionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.completions = append(r.completions, completion)
	return nil
}

// Northbound returns a copy of the recorded northbound events.
func (r *EventRecorder) Northbound() []NorthboundEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NorthboundEvent, len(r.northbound))
	copy(out, r.northbound)
	return out
}

// Sent returns a copy of the recorded southbound events.
func (r *EventRecorder) Sent() []asset.AttributeEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]asset.AttributeEvent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Completions returns a copy of the recorded completions.
func (r *EventRecorder) Completions() []asset.CompletionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]asset.CompletionEvent, len(r.completions))
	copy(out, r.completions)
	return out
}

// Reset drops everything recorded so far.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.northbound = nil
	r.sent = nil
	r.completions = nil
}

// WaitForNorthbound polls until at least count northbound events are
// recorded, failing the test on timeout.
func (r *EventRecorder) WaitForNorthbound(t *testing.T, count int, timeout time.Duration) []NorthboundEvent {
	t.Helper()
	waitFor(t, timeout, "northbound events", count, func() int {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.northbound)
	})
	return r.Northbound()
}

// WaitForSent polls until at least count southbound events are recorded,
// failing the test on timeout.
func (r *EventRecorder) WaitForSent(t *testing.T, count int, timeout time.Duration) []asset.AttributeEvent {
	t.Helper()
	waitFor(t, timeout, "southbound events", count, func() int {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.sent)
	})
	return r.Sent()
}

// WaitForCompletions polls until at least count completions are recorded,
// failing the test on timeout.
func (r *EventRecorder) WaitForCompletions(t *testing.T, count int, timeout time.Duration) []asset.CompletionEvent {
	t.Helper()
	waitFor(t, timeout, "completions", count, func() int {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.completions)
	})
	return r.Completions()
}

func waitFor(t *testing.T, timeout time.Duration, what string, count int, current func() int) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if current() >= count {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d %s (got %d)", count, what, current())
			return
		}
		<-ticker.C
	}
}
