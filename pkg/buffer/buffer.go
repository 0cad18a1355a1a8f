package buffer

// Buffer is a bounded, thread-safe FIFO. Implementations decide what a
// full buffer means for writers through their overflow policy.
type Buffer[T any] interface {
	// Write appends an item. When the buffer is full the configured
	// OverflowPolicy decides whether the write evicts, drops, or waits.
	Write(item T) error

	// Read removes and returns the oldest item. The second return is
	// false when the buffer is empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items, oldest first.
	// Returns nil when the buffer is empty or max is not positive.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Size returns the number of buffered items.
	Size() int

	// Capacity returns the fixed capacity.
	Capacity() int

	IsFull() bool
	IsEmpty() bool

	// Clear discards every buffered item. The drop callback fires for
	// each discarded item so owners can release per-item state.
	Clear()

	// Stats returns the running counters. Never nil.
	Stats() *Statistics

	// Close marks the buffer closed. Subsequent writes fail and any
	// writer blocked by the Block policy is woken with an error.
	Close() error
}

// OverflowPolicy selects the write behavior at capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room. The default.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item and keeps the buffer as is.
	DropNewest

	// Block makes Write wait until a reader frees a slot.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// DropCallback receives each item discarded by an overflow policy or by
// Clear. It runs outside the buffer lock, so it may safely call back
// into the buffer.
type DropCallback[T any] func(item T)
