package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/assetmesh/errors"
)

// ConnectionStatus is the observable state of the NATS connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected      = stderrors.New("not connected to NATS")
	ErrCircuitOpen       = stderrors.New("connection circuit is open")
	ErrConnectionTimeout = stderrors.New("timed out waiting for NATS connection")
)

// messageHandlerTimeout bounds how long a single subscription handler may
// run before its context is cancelled.
const messageHandlerTimeout = 30 * time.Second

// Status is a point-in-time snapshot of connection health.
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
}

// Client wraps a NATS connection with lifecycle management, a failure
// circuit, and JetStream key-value access. The event plane (attribute
// events, completion events, gateway fan-out) rides on core pub/sub;
// asset state, datapoint series, and platform config live in KV buckets
// opened through this client. All methods are safe for concurrent use.
type Client struct {
	url    string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	status     atomic.Value // ConnectionStatus
	failures   atomic.Int32 // total since the last successful connect
	reconnects atomic.Int32

	// Failure circuit. After circuitThreshold consecutive failures the
	// client refuses connection attempts until the backoff elapses; every
	// time the circuit opens the backoff doubles, up to maxBackoff.
	circuitFailures  atomic.Int32
	circuitThreshold int32
	backoff          atomic.Value // time.Duration
	maxBackoff       time.Duration
	lastFailure      atomic.Value // time.Time

	// Connection tuning.
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Credentials are zeroed on Close.
	username string
	password string
	token    string

	tls tlsConfig

	clientName  string
	compression bool

	metrics         *clientMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	healthInterval time.Duration
	healthDone     chan struct{}

	closeMu sync.Mutex
	closed  bool
}

type tlsConfig struct {
	enabled  bool
	certFile string
	keyFile  string
	caFile   string
}

// NewClient builds a client for the given server URL. The client starts
// disconnected; call Connect to dial.
func NewClient(url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		metricsInterval:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "natsclient", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	return c, nil
}

// URL returns the server URL the client was built for.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	if v := c.status.Load(); v != nil {
		return v.(ConnectionStatus)
	}
	return StatusDisconnected
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy reports whether the connection is established and usable.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// GetStatus returns a snapshot of connection health for health endpoints.
func (c *Client) GetStatus() *Status {
	st := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		Reconnects:      c.reconnects.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			st.RTT = rtt
		}
	}
	return st
}

// RTT measures the round-trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// ready gates operations on connection state.
func (c *Client) ready() error {
	switch c.Status() {
	case StatusCircuitOpen:
		return ErrCircuitOpen
	case StatusConnected:
		return nil
	default:
		return ErrNotConnected
	}
}

// recordFailure counts a failure against the circuit and opens it once the
// threshold is crossed.
func (c *Client) recordFailure() {
	c.failures.Add(1)
	c.lastFailure.Store(time.Now())

	if c.circuitFailures.Add(1) < c.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	wait := c.backoff.Load().(time.Duration)
	next := wait * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(next)

	current := c.Status()
	if current == StatusCircuitOpen {
		c.logger.Warn("connection circuit still open", "next_backoff", next)
		return
	}
	if c.status.CompareAndSwap(current, StatusCircuitOpen) {
		c.logger.Warn("connection circuit opened",
			"failures", c.failures.Load(),
			"backoff", wait)
		time.AfterFunc(wait, c.halfOpenCircuit)
	}
}

// halfOpenCircuit lets connect attempts through again after the backoff.
func (c *Client) halfOpenCircuit() {
	if c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		c.logger.Debug("connection circuit half-open")
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// Backoff returns the wait the circuit will impose the next time it opens.
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

// Connect dials the server. It returns ErrCircuitOpen without dialing while
// the failure circuit is open.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	dialDone := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectOptions()...)
		dialDone <- dialResult{conn, err}
	}()

	select {
	case res := <-dialDone:
		if res.err != nil {
			c.connectFailed()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			return errors.WrapTransient(res.err, "natsclient", "Connect", "dial")
		}

		js, err := jetstream.New(res.conn)
		if err != nil {
			// Core pub/sub still works; KV operations will fail until a
			// reconnect establishes JetStream.
			c.logger.Warn("JetStream unavailable on this connection", "error", err)
		}

		c.mu.Lock()
		c.conn = res.conn
		c.js = js
		c.mu.Unlock()

	case <-ctx.Done():
		// The dial goroutine delivers into the buffered channel; reap the
		// connection if the dial won the race, so it doesn't leak.
		go func() {
			if res := <-dialDone; res.conn != nil {
				res.conn.Close()
			}
		}()
		c.connectFailed()
		return errors.WrapTransient(ctx.Err(), "natsclient", "Connect", "dial cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.metrics.setConnected(true)
	c.logger.Info("connected to NATS", "url", c.url)

	if c.healthInterval > 0 {
		c.startHealthMonitor()
	}
	if c.metrics != nil && c.metricsInterval > 0 {
		c.metricsCancel = c.metrics.startPoller(context.Background(), c.metricsInterval)
	}

	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}
	return nil
}

func (c *Client) connectFailed() {
	c.recordFailure()
	if c.Status() != StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) connectOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleAsyncError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tls.enabled {
		if c.tls.certFile != "" && c.tls.keyFile != "" {
			opts = append(opts, nats.ClientCert(c.tls.certFile, c.tls.keyFile))
		}
		if c.tls.caFile != "" {
			opts = append(opts, nats.RootCAs(c.tls.caFile))
		}
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	if c.compression {
		opts = append(opts, nats.Compression(true))
	}
	return opts
}

// WaitForConnection polls until the connection reports healthy or the
// context expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close drains and closes the connection. It is idempotent; the context
// bounds how long draining may take.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.stopHealthMonitor()
	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "natsclient", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drainLocked(ctx); err != nil {
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.username, c.password, c.token = "", "", ""
	c.setStatus(StatusDisconnected)
	c.metrics.setConnected(false)

	return stderrors.Join(errs...)
}

// drainLocked flushes buffered messages before close, bounded by the drain
// timeout or the context deadline, whichever is shorter.
func (c *Client) drainLocked(ctx context.Context) error {
	timeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	done := make(chan error, 1)
	conn := c.conn
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "natsclient", "Close", "drain")
		}
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("drain timed out after %v", timeout),
			"natsclient", "Close", "drain")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "natsclient", "Close", "drain")
	}
}

// Publish sends data on a core NATS subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Subscribe delivers messages for subject to handler. Each delivery runs
// under its own context, derived from ctx and bounded by
// messageHandlerTimeout. Subscriptions live until Close.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	return c.subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, messageHandlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
}

// SubscribeSubject is Subscribe for wildcard subscriptions: the handler also
// receives the concrete subject each message arrived on.
func (c *Client) SubscribeSubject(ctx context.Context, subject string, handler func(context.Context, string, []byte)) error {
	return c.subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, messageHandlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Subject, msg.Data)
	})
}

func (c *Client) subscribe(subject string, cb nats.MsgHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, cb)
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Subscribe", subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// JetStream returns the JetStream context established at connect time.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(
			stderrors.New("JetStream not initialized"),
			"natsclient", "JetStream", "context unavailable")
	}
	return c.js, nil
}

// CreateKeyValueBucket returns the named KV bucket, creating it when it
// does not exist yet. Concurrent creators race safely: the loser adopts
// the winner's bucket.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	// Fast path: the bucket already exists.
	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.resetCircuit()
		c.metrics.trackBucket(cfg.Bucket, bucket)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err == nil {
		c.logger.Info("created KV bucket", "bucket", cfg.Bucket)
		c.resetCircuit()
		c.metrics.trackBucket(cfg.Bucket, bucket)
		return bucket, nil
	}
	if !isBucketExistsError(err) {
		c.recordFailure()
		c.metrics.recordError("create_bucket")
		return nil, errors.WrapTransient(err, "natsclient", "CreateKeyValueBucket", cfg.Bucket)
	}

	// Lost a create race; the bucket exists now.
	bucket, err = js.KeyValue(ctx, cfg.Bucket)
	if err != nil {
		c.recordFailure()
		c.metrics.recordError("create_bucket")
		return nil, errors.Wrap(err, "natsclient", "CreateKeyValueBucket", cfg.Bucket)
	}
	c.resetCircuit()
	c.metrics.trackBucket(cfg.Bucket, bucket)
	return bucket, nil
}

// GetKeyValueBucket returns an existing KV bucket.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		c.recordFailure()
		c.metrics.recordError("get_bucket")
		return nil, err
	}

	c.resetCircuit()
	c.metrics.trackBucket(name, bucket)
	return bucket, nil
}

// DeleteKeyValueBucket removes a KV bucket and everything in it.
func (c *Client) DeleteKeyValueBucket(ctx context.Context, name string) error {
	if err := c.ready(); err != nil {
		return err
	}
	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return err
	}

	if err := js.DeleteKeyValue(ctx, name); err != nil {
		c.recordFailure()
		c.metrics.recordError("delete_bucket")
		return err
	}

	c.resetCircuit()
	c.metrics.untrackBucket(name)
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.metrics.setConnected(false)

	c.mu.RLock()
	onDisconnect, onHealthChange := c.onDisconnect, c.onHealthChange
	c.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.reconnects.Add(1)
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.metrics.setConnected(true)
	c.metrics.recordReconnect()

	c.mu.RLock()
	onReconnect, onHealthChange := c.onReconnect, c.onHealthChange
	c.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.metrics.setConnected(false)

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("async NATS error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("async NATS error", "error", err)
}

// startHealthMonitor probes the connection on a timer, reconciling status
// and notifying the health-change callback on transitions.
func (c *Client) startHealthMonitor() {
	c.stopHealthMonitor()

	done := make(chan struct{})
	c.mu.Lock()
	c.healthDone = done
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()

		lastHealthy := c.IsHealthy()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				healthy := c.probeConnection()
				if healthy != lastHealthy {
					c.mu.RLock()
					onHealthChange := c.onHealthChange
					c.mu.RUnlock()
					if onHealthChange != nil {
						onHealthChange(healthy)
					}
				}
				lastHealthy = healthy
			}
		}
	}()
}

// probeConnection measures round-trip time and reconciles status with what
// the probe observed.
func (c *Client) probeConnection() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return false
	}

	healthy := conn.IsConnected()
	if healthy {
		rtt, err := conn.RTT()
		if err != nil {
			healthy = false
		} else {
			c.metrics.observeRTT(rtt)
		}
	}

	if healthy && c.Status() != StatusConnected {
		c.setStatus(StatusConnected)
	} else if !healthy && c.Status() == StatusConnected {
		c.setStatus(StatusReconnecting)
	}
	c.metrics.setConnected(healthy)
	return healthy
}

func (c *Client) stopHealthMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}

// isBucketExistsError reports whether err means another creator won the
// bucket race.
func isBucketExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "stream name already in use") ||
		strings.Contains(msg, "already exists")
}
