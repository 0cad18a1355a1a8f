// Package gateway serves the WebSocket client surface: subscription to
// completed attribute events and southbound attribute writes. Every filter
// and every write is authorized against the caller's identity before it
// takes effect; completions fan out per client through a bounded send
// queue so one slow reader never stalls the pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/identity"
	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/pkg/security"
	"github.com/c360/assetmesh/pkg/tlsutil"
	"github.com/c360/assetmesh/service"
	"github.com/c360/assetmesh/types"
)

// DeliveryMode selects how hard the gateway tries to get a data envelope
// to a client.
type DeliveryMode string

const (
	// DeliveryAtMostOnce sends each completion once and forgets it.
	DeliveryAtMostOnce DeliveryMode = "at-most-once"

	// DeliveryAtLeastOnce tracks data envelopes until the client acks
	// them and resends an unacknowledged envelope one time.
	DeliveryAtLeastOnce DeliveryMode = "at-least-once"
)

const (
	defaultPort       = 8081
	defaultPath       = "/ws"
	defaultAckTimeout = 5 * time.Second
	defaultWriteRate  = 10
	defaultWriteBurst = 20
)

// ServiceConfig holds configuration for the gateway service.
type ServiceConfig struct {
	Port         int          `json:"port"`
	Path         string       `json:"path"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	AckTimeout   string       `json:"ack_timeout"`

	// WriteRate and WriteBurst bound attribute writes per connection,
	// in events per second.
	WriteRate  int `json:"write_rate"`
	WriteBurst int `json:"write_burst"`
}

// Validate checks if the configuration is valid
func (c ServiceConfig) Validate() error {
	if c.Port != 0 && (c.Port < 1024 || c.Port > 65535) {
		return fmt.Errorf("port must be between 1024 and 65535, got %d", c.Port)
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with /, got %q", c.Path)
	}
	switch c.DeliveryMode {
	case "", DeliveryAtMostOnce, DeliveryAtLeastOnce:
	default:
		return fmt.Errorf("unknown delivery mode %q", c.DeliveryMode)
	}
	if c.AckTimeout != "" {
		if _, err := time.ParseDuration(c.AckTimeout); err != nil {
			return fmt.Errorf("invalid ack timeout: %w", err)
		}
	}
	if c.WriteRate < 0 || c.WriteBurst < 0 {
		return fmt.Errorf("write rate and burst cannot be negative")
	}
	return nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Path == "" {
		c.Path = defaultPath
	}
	if c.DeliveryMode == "" {
		c.DeliveryMode = DeliveryAtMostOnce
	}
	if c.WriteRate == 0 {
		c.WriteRate = defaultWriteRate
	}
	if c.WriteBurst == 0 {
		c.WriteBurst = defaultWriteBurst
	}
}

// EventWriter accepts authorized client writes into the pipeline.
type EventWriter interface {
	SubmitClient(ctx context.Context, event asset.AttributeEvent) error
}

// Deps carries the collaborators the gateway service is wired with.
type Deps struct {
	NATS       *natsclient.Client // optional; nil means in-process wiring only
	Writer     EventWriter        // preferred write path; nil falls back to NATS
	Authorizer *identity.Authorizer
	Identities identity.Provider // nil defaults to header-based identities
	Security   security.Config
	Metrics    *metric.MetricsRegistry
	Logger     *slog.Logger
}

// Service is the WebSocket gateway. Each connection gets a read pump and a
// write pump; the write pump is the sole writer on the connection and owns
// the keepalive pings.
type Service struct {
	*service.BaseService

	config     ServiceConfig
	ackTimeout time.Duration
	auth       *identity.Authorizer
	identities identity.Provider
	writer     EventWriter
	client     *natsclient.Client
	security   security.Config
	logger     *slog.Logger
	metrics    *gatewayMetrics
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	server *http.Server
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the gateway service.
func New(rawConfig json.RawMessage, deps Deps) (*Service, error) {
	var cfg ServiceConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Service", "New", "parse gateway config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Service", "New", "validate gateway config")
	}
	cfg.applyDefaults()

	ackTimeout := defaultAckTimeout
	if cfg.AckTimeout != "" {
		ackTimeout, _ = time.ParseDuration(cfg.AckTimeout)
	}

	if deps.Authorizer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Service", "New", "authorizer required")
	}

	identities := deps.Identities
	if identities == nil {
		identities = identity.HeaderProvider{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "gateway")

	if deps.Writer == nil && deps.NATS == nil {
		logger.Warn("no write path wired, client writes will be rejected")
	}

	s := &Service{
		config:     cfg,
		ackTimeout: ackTimeout,
		auth:       deps.Authorizer,
		identities: identities,
		writer:     deps.Writer,
		client:     deps.NATS,
		security:   deps.Security,
		logger:     logger,
		metrics:    newGatewayMetrics(deps.Metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		runCtx:  context.Background(),
	}

	s.BaseService = service.NewBaseServiceWithOptions(
		"gateway",
		nil,
		service.WithLogger(logger),
		service.WithMetrics(deps.Metrics),
		service.WithNATS(deps.NATS),
		service.WithHealthCheck(s.healthCheck),
	)

	return s, nil
}

// Start binds the WebSocket endpoint and, when a NATS client is wired,
// subscribes the completed subjects for fan-out.
func (s *Service) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.security.TLS.Server.Enabled {
		tlsConfig, err := tlsutil.LoadServerTLSConfigWithMTLS(s.security.TLS.Server, s.security.TLS.Server.MTLS)
		if err != nil {
			return err
		}
		server.TLSConfig = tlsConfig
	}

	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.runCtx = runCtx
	s.cancel = cancel
	s.server = server

	s.wg.Add(1)
	go s.runServer(server)

	if s.client != nil {
		if err := s.client.Subscribe(runCtx, types.CompletedWildcard(), s.handleCompleted); err != nil {
			cancel()
			return errors.WrapTransient(err, "Service", "Start", "subscribe completed subjects")
		}
	}

	if s.config.DeliveryMode == DeliveryAtLeastOnce {
		s.wg.Add(1)
		go s.maintain(runCtx)
	}

	s.logger.Info("gateway started",
		"port", s.config.Port,
		"path", s.config.Path,
		"delivery_mode", string(s.config.DeliveryMode),
		"tls", s.security.TLS.Server.Enabled,
	)
	return nil
}

// Stop closes the listener, disconnects clients and waits for the pumps.
func (s *Service) Stop(timeout time.Duration) error {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if s.cancel != nil {
		s.cancel()
	}

	if s.server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", "error", err)
		}
		cancelShutdown()
	}

	for _, c := range s.snapshotClients() {
		s.removeClient(c, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("connection pumps did not stop in time")
	}

	return s.BaseService.Stop(timeout)
}

func (s *Service) healthCheck() error {
	if s.client != nil && !s.client.IsHealthy() {
		return fmt.Errorf("nats connection unhealthy")
	}
	return nil
}

func (s *Service) runServer(server *http.Server) {
	defer s.wg.Done()

	var err error
	if server.TLSConfig != nil {
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("gateway server failed", "error", err)
	}
}

// handleUpgrade authenticates the request, upgrades it and starts the
// connection pumps. Unidentifiable callers are refused before the upgrade.
func (s *Service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id, err := s.identities.Identify(r)
	if err != nil {
		s.metrics.recordDenial("connect")
		s.logger.Warn("connection refused", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.config.WriteRate), s.config.WriteBurst)
	c, err := newClient(conn, id, limiter)
	if err != nil {
		_ = conn.Close()
		s.logger.Error("client setup failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	active := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.recordConnect(active)

	s.logger.Info("client connected",
		"user", id.UserID,
		"realm", id.Realm,
		"remote", r.RemoteAddr,
	)

	s.wg.Add(2)
	go s.readPump(c)
	go s.writePump(c)
}

// readPump consumes client envelopes until the connection drops. The read
// deadline is armed once and pushed forward by each pong.
func (s *Service) readPump(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c, "read_closed")

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(c, "", "invalid envelope")
			continue
		}
		s.RecordActivity(1)

		switch env.Type {
		case TypeSubscribe:
			s.handleSubscribe(c, env)
		case TypeUnsubscribe:
			s.handleUnsubscribe(c, env)
		case TypeWrite:
			s.handleWrite(c, env)
		case TypeAck:
			c.takePending(env.ID)
		case TypeNack:
			s.handleNack(c, env)
		default:
			s.sendError(c, env.ID, fmt.Sprintf("unsupported envelope type %q", env.Type))
		}
	}
}

// writePump is the single writer on the connection. It drains the send
// queue and keeps the connection alive with pings.
func (s *Service) writePump(c *client) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.removeClient(c, "write_failure")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.removeClient(c, "ping_failure")
				return
			}
		}
	}
}

func (s *Service) handleSubscribe(c *client, env Envelope) {
	var f identity.Filter
	if err := json.Unmarshal(env.Payload, &f); err != nil {
		s.sendError(c, env.ID, "invalid subscribe payload")
		return
	}

	if err := s.auth.Authorize(s.runCtx, c.identity, f); err != nil {
		s.metrics.recordDenial("subscribe")
		s.logger.Warn("subscription denied",
			"user", c.identity.UserID,
			"asset", f.AssetID,
			"error", err,
		)
		s.sendError(c, env.ID, "subscription denied")
		return
	}

	if c.subscribe(f) {
		s.metrics.recordSubscribe()
	}
	s.logger.Debug("subscribed",
		"user", c.identity.UserID,
		"asset", f.AssetID,
		"attribute", f.Attribute,
	)
}

func (s *Service) handleUnsubscribe(c *client, env Envelope) {
	var f identity.Filter
	if err := json.Unmarshal(env.Payload, &f); err != nil {
		s.sendError(c, env.ID, "invalid unsubscribe payload")
		return
	}
	if c.unsubscribe(f) {
		s.metrics.recordUnsubscribe()
	}
}

func (s *Service) handleWrite(c *client, env Envelope) {
	if !c.limiter.Allow() {
		s.metrics.recordWrite("rate_limited")
		s.sendError(c, env.ID, "rate limited")
		return
	}

	var p WritePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.AssetID == "" || p.Attribute == "" {
		s.metrics.recordWrite("invalid")
		s.sendError(c, env.ID, "invalid write payload")
		return
	}

	ref := asset.AttributeRef{AssetID: p.AssetID, Name: p.Attribute}
	if err := s.auth.AuthorizeWrite(s.runCtx, c.identity, ref); err != nil {
		s.metrics.recordWrite("denied")
		s.metrics.recordDenial("write")
		s.logger.Warn("write denied",
			"user", c.identity.UserID,
			"asset", p.AssetID,
			"attribute", p.Attribute,
			"error", err,
		)
		s.sendError(c, env.ID, "write denied")
		return
	}

	event := asset.NewAttributeEvent(ref, p.Value)
	if err := s.submitWrite(event); err != nil {
		s.metrics.recordWrite("failed")
		s.logger.Warn("write submission failed",
			"asset", p.AssetID,
			"attribute", p.Attribute,
			"error", err,
		)
		s.sendError(c, env.ID, "write failed")
		return
	}
	s.metrics.recordWrite("accepted")
}

func (s *Service) handleNack(c *client, env Envelope) {
	p := c.takePending(env.ID)
	if p == nil {
		return
	}
	if p.Retries > 0 {
		s.metrics.recordDrop("redelivery_exhausted")
		return
	}
	p.Retries = 1
	p.SentAt = time.Now()
	c.trackPending(p)
	if c.enqueue(p.Data) {
		s.metrics.recordRedelivery()
	} else {
		c.takePending(p.ID)
		s.metrics.recordDrop("slow_client")
	}
}

// submitWrite hands an authorized write to the pipeline, in process when a
// writer is wired, over the client subject otherwise.
func (s *Service) submitWrite(event asset.AttributeEvent) error {
	if s.writer != nil {
		return s.writer.SubmitClient(s.runCtx, event)
	}
	if s.client != nil {
		data, err := event.Encode()
		if err != nil {
			return errors.WrapInvalid(err, "Service", "submitWrite", "encode attribute event")
		}
		return s.client.Publish(s.runCtx, types.SubjectClient, data)
	}
	return errors.WrapInvalid(errors.ErrMissingConfig, "Service", "submitWrite", "no write path wired")
}

// PublishCompletion fans a completion out to subscribed clients. It lets
// the gateway sit directly behind the processing pipeline when both run in
// one process.
func (s *Service) PublishCompletion(_ context.Context, completion asset.CompletionEvent) error {
	s.broadcast(completion)
	return nil
}

func (s *Service) handleCompleted(_ context.Context, data []byte) {
	var completion asset.CompletionEvent
	if err := json.Unmarshal(data, &completion); err != nil {
		s.metrics.recordDrop("decode_failure")
		s.logger.Warn("undecodable completion event", "error", err)
		return
	}
	s.RecordActivity(1)
	s.broadcast(completion)
}

// broadcast sends one completion to every client with a matching filter.
// The envelope is marshaled once; per-client delivery is a non-blocking
// enqueue so a stuck connection only loses its own messages.
func (s *Service) broadcast(completion asset.CompletionEvent) {
	start := time.Now()

	payload, err := json.Marshal(completion)
	if err != nil {
		s.metrics.recordDrop("encode_failure")
		return
	}
	env := newEnvelope(TypeData, payload)
	data, err := json.Marshal(env)
	if err != nil {
		s.metrics.recordDrop("encode_failure")
		return
	}

	for _, c := range s.snapshotClients() {
		if !c.wantsCompletion(completion.AssetID, completion.Attribute) {
			continue
		}

		tracked := false
		if s.config.DeliveryMode == DeliveryAtLeastOnce {
			c.trackPending(&pendingMessage{ID: env.ID, Data: data, SentAt: time.Now()})
			tracked = true
		}
		if c.enqueue(data) {
			s.metrics.recordSent(TypeData, len(data))
		} else {
			if tracked {
				c.takePending(env.ID)
			}
			s.metrics.recordDrop("slow_client")
		}
	}

	s.metrics.observeBroadcast(time.Since(start).Seconds())
}

// maintain sweeps pending acks. An envelope unacknowledged past the ack
// timeout is resent once, then dropped.
func (s *Service) maintain(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, c := range s.snapshotClients() {
				resend, exhausted := c.expirePending(now, s.ackTimeout)
				for i := 0; i < exhausted; i++ {
					s.metrics.recordDrop("redelivery_exhausted")
				}
				for _, p := range resend {
					if c.enqueue(p.Data) {
						s.metrics.recordRedelivery()
					} else {
						c.takePending(p.ID)
						s.metrics.recordDrop("slow_client")
					}
				}
			}
		}
	}
}

func (s *Service) sendError(c *client, requestID, message string) {
	data, err := errorEnvelope(requestID, message)
	if err != nil {
		return
	}
	if c.enqueue(data) {
		s.metrics.recordSent(TypeError, len(data))
	} else {
		s.metrics.recordDrop("slow_client")
	}
}

func (s *Service) snapshotClients() []*client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if !c.closed.Load() {
			out = append(out, c)
		}
	}
	return out
}

// removeClient tears a connection down exactly once.
func (s *Service) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		s.clientsMu.Lock()
		delete(s.clients, c)
		active := len(s.clients)
		s.clientsMu.Unlock()

		s.metrics.recordDisconnect(reason, active, c.subscriptionCount())
		close(c.done)
		_ = c.conn.Close()
		_ = c.pendingBuf.Close()

		s.logger.Info("client disconnected",
			"user", c.identity.UserID,
			"reason", reason,
			"connected_for", time.Since(c.connectedAt).Round(time.Millisecond).String(),
		)
	})
}
