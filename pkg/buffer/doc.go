// Package buffer provides a generic, thread-safe ring buffer with
// selectable overflow policies.
//
// The platform uses it wherever a producer must not be allowed to grow
// state without bound. The gateway is the canonical case: each
// WebSocket client tracks unacknowledged envelopes in a DropOldest
// buffer so a silent client caps its own memory, and a drop callback
// releases the matching tracking record:
//
//	buf, err := buffer.NewCircularBuffer[*pendingMessage](100,
//		buffer.WithOverflowPolicy[*pendingMessage](buffer.DropOldest),
//		buffer.WithDropCallback[*pendingMessage](func(p *pendingMessage) {
//			untrack(p.ID)
//		}),
//	)
//
// # Overflow policies
//
// A full buffer handles a write according to its policy:
//
//   - DropOldest evicts the oldest item (default)
//   - DropNewest discards the incoming item
//   - Block parks the writer until a reader frees a slot
//
// NewCircularBuffer returns the concrete *CircularBuffer; consumers
// that only read and write typically hold it as the Buffer interface.
// Under the Block policy, WriteContext bounds the wait:
//
//	err := buf.WriteContext(ctx, event)
//
// Drop callbacks always run outside the buffer lock, so they may call
// back into the buffer.
//
// # Observability
//
// Every buffer collects Statistics (atomic counters: writes, reads,
// overflows, drops, occupancy high-water mark). WithMetrics
// additionally exports the same signals as Prometheus series labeled
// with the owning component. The two are deliberately independent:
// stats stay available in tests and minimal deployments where no
// metrics registry exists.
package buffer
