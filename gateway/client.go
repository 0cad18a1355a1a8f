package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/assetmesh/identity"
	"github.com/c360/assetmesh/pkg/buffer"
)

const (
	// sendQueueSize bounds the per-client outbound queue. A client that
	// cannot drain it loses messages rather than stalling the pipeline.
	sendQueueSize = 64

	// pendingCapacity bounds unacknowledged messages per client in
	// at-least-once mode.
	pendingCapacity = 100

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// pendingMessage tracks a data envelope awaiting acknowledgment.
type pendingMessage struct {
	ID      string
	Data    []byte
	SentAt  time.Time
	Retries int
}

// client is one connected WebSocket session. The write pump is the only
// goroutine that touches the connection's write side; everyone else goes
// through the send queue.
type client struct {
	conn        *websocket.Conn
	identity    identity.Identity
	connectedAt time.Time
	limiter     *rate.Limiter

	send chan []byte
	done chan struct{}

	subsMu sync.RWMutex
	subs   map[identity.Filter]struct{}

	pendingMu  sync.Mutex
	pending    map[string]*pendingMessage
	pendingBuf buffer.Buffer[*pendingMessage]

	closed    atomic.Bool
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, id identity.Identity, limiter *rate.Limiter) (*client, error) {
	c := &client{
		conn:        conn,
		identity:    id,
		connectedAt: time.Now(),
		limiter:     limiter,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
		subs:        make(map[identity.Filter]struct{}),
		pending:     make(map[string]*pendingMessage),
	}

	// The buffer bounds the pending map: when it evicts an entry the
	// matching tracking record goes with it.
	buf, err := buffer.NewCircularBuffer[*pendingMessage](pendingCapacity,
		buffer.WithOverflowPolicy[*pendingMessage](buffer.DropOldest),
		buffer.WithDropCallback[*pendingMessage](func(p *pendingMessage) {
			c.pendingMu.Lock()
			delete(c.pending, p.ID)
			c.pendingMu.Unlock()
		}),
	)
	if err != nil {
		return nil, err
	}
	c.pendingBuf = buf
	return c, nil
}

// enqueue hands data to the write pump. Reports false when the client is
// closed or its queue is full; the caller decides what the loss means.
func (c *client) enqueue(data []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// subscribe adds a filter. Reports whether it was new.
func (c *client) subscribe(f identity.Filter) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subs[f]; ok {
		return false
	}
	c.subs[f] = struct{}{}
	return true
}

// unsubscribe removes a filter. Reports whether it was present.
func (c *client) unsubscribe(f identity.Filter) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subs[f]; !ok {
		return false
	}
	delete(c.subs, f)
	return true
}

func (c *client) subscriptionCount() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs)
}

// wantsCompletion reports whether any subscription covers the attribute.
func (c *client) wantsCompletion(assetID, attribute string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for f := range c.subs {
		if f.Matches(assetID, attribute) {
			return true
		}
	}
	return false
}

// trackPending registers a sent data envelope for ack tracking.
func (c *client) trackPending(p *pendingMessage) {
	_ = c.pendingBuf.Write(p)
	c.pendingMu.Lock()
	c.pending[p.ID] = p
	c.pendingMu.Unlock()
}

// takePending removes and returns the pending entry for id, if tracked.
func (c *client) takePending(id string) *pendingMessage {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// expirePending splits pendings older than timeout into messages to resend
// (first expiry) and messages to give up on (already resent once).
func (c *client) expirePending(now time.Time, timeout time.Duration) (resend []*pendingMessage, exhausted int) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, p := range c.pending {
		if now.Sub(p.SentAt) < timeout {
			continue
		}
		if p.Retries == 0 {
			p.Retries = 1
			p.SentAt = now
			resend = append(resend, p)
			continue
		}
		delete(c.pending, id)
		exhausted++
	}
	return resend, exhausted
}
