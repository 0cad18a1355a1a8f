package buffer

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/assetmesh/errors"
)

// CircularBuffer is the ring-backed Buffer implementation. One mutex
// guards the ring; the Block policy parks writers on a condition
// variable until a reader frees a slot.
type CircularBuffer[T any] struct {
	mu     sync.RWMutex
	ring   []T
	head   int // next write slot
	tail   int // next read slot
	size   int
	closed bool

	notFull *sync.Cond

	stats   *Statistics
	metrics *bufferMetrics
	opts    *options[T]
}

var _ Buffer[int] = (*CircularBuffer[int])(nil)

// NewCircularBuffer creates a ring buffer with the given capacity.
// Capacity must be positive. Statistics are always collected;
// Prometheus export is opt-in via WithMetrics.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (*CircularBuffer[T], error) {
	o := buildOptions(opts...)

	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "buffer", "NewCircularBuffer",
			fmt.Sprintf("capacity must be positive, got %d", capacity))
	}

	var metrics *bufferMetrics
	if o.registry != nil && o.component != "" {
		var err error
		metrics, err = newBufferMetrics(o.registry, o.component)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "NewCircularBuffer", "metrics registration")
		}
	}

	cb := &CircularBuffer[T]{
		ring:    make([]T, capacity),
		stats:   NewStatistics(),
		metrics: metrics,
		opts:    o,
	}
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

func closedErr(op string) error {
	return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", op, "buffer closed")
}

// Write appends item. At capacity the overflow policy applies; only the
// Block policy can make Write wait.
func (cb *CircularBuffer[T]) Write(item T) error {
	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return closedErr("Write")
	}

	var dropped []T
	if cb.size == len(cb.ring) {
		cb.stats.Overflow()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
		}

		switch cb.opts.overflowPolicy {
		case DropNewest:
			cb.mu.Unlock()
			cb.recordDrop()
			cb.notifyDropped(item)
			return nil

		case DropOldest:
			dropped = append(dropped, cb.unlinkOldestLocked())

		case Block:
			for cb.size == len(cb.ring) && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				cb.mu.Unlock()
				return closedErr("Write")
			}
		}
	}

	cb.writeLocked(item)
	cb.mu.Unlock()

	for _, item := range dropped {
		cb.recordDrop()
		cb.notifyDropped(item)
	}
	return nil
}

// WriteContext behaves like Write but, under the Block policy, gives up
// when ctx is done. With any other policy it is identical to Write.
func (cb *CircularBuffer[T]) WriteContext(ctx context.Context, item T) error {
	if cb.opts.overflowPolicy != Block {
		return cb.Write(item)
	}

	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return closedErr("WriteContext")
	}

	if cb.size == len(cb.ring) {
		cb.stats.Overflow()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
		}

		// The watcher turns context cancellation into a broadcast so
		// the cond wait below can observe it.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				cb.notFull.Broadcast()
			case <-done:
			}
		}()

		for cb.size == len(cb.ring) && !cb.closed && ctx.Err() == nil {
			cb.notFull.Wait()
		}

		switch {
		case ctx.Err() != nil:
			cb.mu.Unlock()
			return ctx.Err()
		case cb.closed:
			cb.mu.Unlock()
			return closedErr("WriteContext")
		}
	}

	cb.writeLocked(item)
	cb.mu.Unlock()
	return nil
}

// Read removes and returns the oldest item.
func (cb *CircularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.unlinkOldestLocked()

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, len(cb.ring))
	}
	cb.notFull.Signal()
	return item, true
}

// ReadBatch removes and returns up to max items, oldest first.
func (cb *CircularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	n := max
	if n > cb.size {
		n = cb.size
	}

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cb.unlinkOldestLocked())
		cb.stats.Read()
	}
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.updateSize(cb.size, len(cb.ring))
	}
	cb.notFull.Broadcast()
	return out
}

// Peek returns the oldest item without removing it.
func (cb *CircularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	cb.stats.Peek()
	if cb.metrics != nil {
		cb.metrics.recordPeek()
	}
	return cb.ring[cb.tail], true
}

func (cb *CircularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity needs no lock: the ring never grows.
func (cb *CircularBuffer[T]) Capacity() int { return len(cb.ring) }

func (cb *CircularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == len(cb.ring)
}

func (cb *CircularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear discards every buffered item. Drops are counted and the drop
// callback fires for each item, outside the lock.
func (cb *CircularBuffer[T]) Clear() {
	cb.mu.Lock()

	dropped := make([]T, 0, cb.size)
	for cb.size > 0 {
		dropped = append(dropped, cb.unlinkOldestLocked())
	}
	cb.head = 0
	cb.tail = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, len(cb.ring))
	}
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	for _, item := range dropped {
		cb.recordDrop()
		cb.notifyDropped(item)
	}
}

func (cb *CircularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close marks the buffer closed and wakes every parked writer.
// Idempotent.
func (cb *CircularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notFull.Broadcast()
	return nil
}

// unlinkOldestLocked removes and returns the oldest item without
// touching drop accounting. Caller holds the lock.
func (cb *CircularBuffer[T]) unlinkOldestLocked() T {
	var zero T
	item := cb.ring[cb.tail]
	cb.ring[cb.tail] = zero
	cb.tail = (cb.tail + 1) % len(cb.ring)
	cb.size--
	return item
}

// writeLocked inserts item at the head slot and publishes the new size.
// Caller holds the lock.
func (cb *CircularBuffer[T]) writeLocked(item T) {
	cb.ring[cb.head] = item
	cb.head = (cb.head + 1) % len(cb.ring)
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, len(cb.ring))
	}
}

// recordDrop and notifyDropped run without the lock; stats and metrics
// counters are atomic, and callbacks may call back into the buffer.
func (cb *CircularBuffer[T]) recordDrop() {
	cb.stats.Drop()
	if cb.metrics != nil {
		cb.metrics.recordDrop()
	}
}

func (cb *CircularBuffer[T]) notifyDropped(item T) {
	if cb.opts.dropCallback != nil {
		cb.opts.dropCallback(item)
	}
}
