// Package service provides the lifecycle framework for AssetMesh's
// long-running services: status transitions, periodic health probes,
// activity accounting, and the registry and manager that wire services
// together at startup.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/assetmesh/config"
	"github.com/c360/assetmesh/health"
	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/natsclient"
)

// Status is a service lifecycle state.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Service is the contract the manager runs services through.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Status() Status
	IsHealthy() bool
	GetStatus() Info
	Health() health.Status
	RegisterMetrics(registrar metric.MetricsRegistrar) error
}

// Info is a point-in-time snapshot of a service's runtime counters.
type Info struct {
	Name               string        `json:"name"`
	Status             Status        `json:"status"`
	Uptime             time.Duration `json:"uptime"`
	StartTime          time.Time     `json:"start_time"`
	MessagesProcessed  int64         `json:"messages_processed"`
	LastActivity       time.Time     `json:"last_activity"`
	HealthChecks       int64         `json:"health_checks"`
	FailedHealthChecks int64         `json:"failed_health_checks"`
}

// HealthCheckFunc probes a service-specific dependency. Nil means healthy.
type HealthCheckFunc func() error

// Option configures a BaseService.
type Option func(*BaseService)

// WithNATS makes NATS connectivity part of the service's health probe.
func WithNATS(client *natsclient.Client) Option {
	return func(s *BaseService) { s.nats = client }
}

// WithMetrics mirrors lifecycle state, probe outcomes, and activity to
// the platform metric set.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) { s.registry = registry }
}

// WithLogger replaces the default logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck installs the service's own probe. It runs before the
// built-in NATS connectivity check.
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) { s.checkFn.Store(fn) }
}

// WithHealthInterval sets how often the probe runs. Zero disables it.
func WithHealthInterval(interval time.Duration) Option {
	return func(s *BaseService) { s.healthInterval = interval }
}

// OnHealthChange registers a callback invoked whenever the probe flips
// the service between healthy and unhealthy.
func OnHealthChange(fn func(bool)) Option {
	return func(s *BaseService) { s.onHealthChange = fn }
}

// BaseService carries the lifecycle plumbing concrete services embed:
// status tracking, the probe loop, and shutdown on parent-context
// cancellation. Zero value is not usable; construct with
// NewBaseServiceWithOptions.
type BaseService struct {
	name     string
	config   *config.Config
	nats     *natsclient.Client
	registry *metric.MetricsRegistry
	logger   *slog.Logger

	status  atomic.Value // Status
	healthy atomic.Bool
	lastErr atomic.Value // string, empty after a passing probe

	startTime    atomic.Value // time.Time
	lastActivity atomic.Value // time.Time
	processed    atomic.Int64
	checks       atomic.Int64
	checkFails   atomic.Int64

	checkFn        atomic.Value // HealthCheckFunc
	healthInterval time.Duration
	onHealthChange func(bool)

	mu   sync.Mutex // guards Start/Stop transitions and done
	done chan struct{}
	wg   sync.WaitGroup
}

// NewBaseServiceWithOptions builds a stopped service. cfg may be nil for
// services that carry their own configuration.
func NewBaseServiceWithOptions(name string, cfg *config.Config, opts ...Option) *BaseService {
	s := &BaseService{
		name:           name,
		config:         cfg,
		healthInterval: 30 * time.Second,
		logger:         slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.startTime.Store(time.Time{})
	s.lastActivity.Store(time.Time{})
	s.lastErr.Store("")
	s.setStatus(StatusStopped)
	return s
}

// setStatus stores the lifecycle state and mirrors it to the gauge.
func (s *BaseService) setStatus(st Status) {
	s.status.Store(st)
	if s.registry != nil {
		s.registry.CoreMetrics().RecordServiceStatus(s.name, int(st))
	}
}

// setHealthy stores the probe outcome and mirrors it to the gauge.
func (s *BaseService) setHealthy(healthy bool) {
	s.healthy.Store(healthy)
	if s.registry != nil {
		s.registry.CoreMetrics().RecordServiceHealth(s.name, healthy)
	}
}

// Name returns the service name.
func (s *BaseService) Name() string { return s.name }

// Status returns the current lifecycle state.
func (s *BaseService) Status() Status { return s.status.Load().(Status) }

// IsHealthy reports the last probe outcome.
func (s *BaseService) IsHealthy() bool { return s.healthy.Load() }

// RecordActivity notes that the service handled n units of work, so Info
// and health output reflect real throughput. Concrete services call it
// from their message paths.
func (s *BaseService) RecordActivity(n int64) {
	s.processed.Add(n)
	s.lastActivity.Store(time.Now())
	if s.registry != nil {
		s.registry.CoreMetrics().RecordEventsProcessed(s.name, n)
	}
}

// SetHealthCheck replaces the service probe. Safe to call at any time.
func (s *BaseService) SetHealthCheck(fn HealthCheckFunc) {
	s.checkFn.Store(fn)
}

// Health maps probe and lifecycle state onto the shared health schema,
// with the runtime counters attached for the health endpoints.
func (s *BaseService) Health() health.Status {
	return s.healthStatus().WithMetrics(s.healthMetrics())
}

func (s *BaseService) healthStatus() health.Status {
	if !s.healthy.Load() {
		// The sanitizing constructor keeps connection strings and file
		// paths out of health endpoints.
		if msg, _ := s.lastErr.Load().(string); msg != "" {
			return health.NewUnhealthyFromError(s.name, msg)
		}
		if st := s.Status(); st == StatusStarting {
			return health.NewDegraded(s.name, "starting, first probe pending")
		}
		return health.NewUnhealthy(s.name,
			fmt.Sprintf("not healthy (failed probes: %d)", s.checkFails.Load()))
	}

	switch s.Status() {
	case StatusRunning:
		return health.NewHealthy(s.name, "running")
	case StatusStarting:
		return health.NewDegraded(s.name, "starting")
	case StatusStopping:
		return health.NewDegraded(s.name, "stopping")
	default:
		return health.NewUnhealthy(s.name, "stopped")
	}
}

func (s *BaseService) healthMetrics() *health.Metrics {
	startTime, _ := s.startTime.Load().(time.Time)
	uptime := time.Duration(0)
	if !startTime.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(startTime)
	}
	lastActivity, _ := s.lastActivity.Load().(time.Time)
	return &health.Metrics{
		Uptime:            uptime,
		ErrorCount:        int(s.checkFails.Load()),
		MessagesProcessed: s.processed.Load(),
		LastActivity:      lastActivity,
	}
}

// Start transitions the service to running and launches the probe loop.
// Starting a running service is a no-op.
func (s *BaseService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.Status(); st == StatusRunning || st == StatusStarting {
		return nil
	}
	s.setStatus(StatusStarting)

	s.done = make(chan struct{})
	now := time.Now()
	s.startTime.Store(now)
	s.lastActivity.Store(now)

	if s.healthInterval > 0 {
		s.wg.Add(1)
		go s.probeLoop(s.done)
	}
	s.wg.Add(1)
	go s.watchContext(ctx, s.done)

	s.setStatus(StatusRunning)
	s.logger.Debug("service started")
	return nil
}

// Stop shuts the service down, waiting up to timeout for its goroutines.
// Stopping a stopped service is a no-op.
func (s *BaseService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.Status(); st == StatusStopped || st == StatusStopping {
		return nil
	}
	s.setStatus(StatusStopping)

	if s.done != nil {
		close(s.done)
		s.done = nil
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		s.logger.Warn("shutdown timed out", "timeout", timeout)
	}

	s.setHealthy(false)
	s.setStatus(StatusStopped)
	s.logger.Debug("service stopped")
	return nil
}

// GetStatus snapshots the runtime counters.
func (s *BaseService) GetStatus() Info {
	startTime := s.startTime.Load().(time.Time)

	uptime := time.Duration(0)
	if !startTime.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(startTime)
	}

	return Info{
		Name:               s.name,
		Status:             s.Status(),
		Uptime:             uptime,
		StartTime:          startTime,
		MessagesProcessed:  s.processed.Load(),
		LastActivity:       s.lastActivity.Load().(time.Time),
		HealthChecks:       s.checks.Load(),
		FailedHealthChecks: s.checkFails.Load(),
	}
}

// RegisterMetrics is a hook for concrete services; the base has none of
// its own beyond the platform set.
func (s *BaseService) RegisterMetrics(_ metric.MetricsRegistrar) error {
	return nil
}

// probeLoop runs health checks until the service stops. The first check
// runs shortly after start so subscriptions have a moment to land.
func (s *BaseService) probeLoop(done chan struct{}) {
	defer s.wg.Done()

	delay := 200 * time.Millisecond
	if s.healthInterval < delay {
		delay = s.healthInterval
	}
	initial := time.NewTimer(delay)
	defer initial.Stop()
	select {
	case <-done:
		return
	case <-initial.C:
		s.check()
	}

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// Context cancellation stops the service without closing
			// done; notice and exit.
			if s.Status() == StatusStopped {
				return
			}
			s.check()
		}
	}
}

// check runs the configured probe, then the built-in NATS connectivity
// check, and records the outcome.
func (s *BaseService) check() {
	if st := s.Status(); st != StatusRunning && st != StatusStarting {
		return
	}
	s.checks.Add(1)

	var err error
	if fn, _ := s.checkFn.Load().(HealthCheckFunc); fn != nil {
		err = fn()
	}
	if err == nil && s.nats != nil && !s.nats.IsHealthy() {
		err = natsclient.ErrNotConnected
	}

	was := s.healthy.Load()
	now := err == nil
	if err != nil {
		s.checkFails.Add(1)
		s.lastErr.Store(err.Error())
		if was {
			s.logger.Warn("health check failed", "error", err)
		}
	} else {
		s.lastErr.Store("")
	}
	s.setHealthy(now)

	if was != now && s.onHealthChange != nil {
		go s.onHealthChange(now)
	}
}

// watchContext stops the service when the parent context is cancelled.
func (s *BaseService) watchContext(ctx context.Context, done chan struct{}) {
	defer s.wg.Done()

	select {
	case <-done:
	case <-ctx.Done():
		s.shutdownFromContext()
	}
}

// shutdownFromContext handles parent-context cancellation. Stop may be
// holding the lifecycle mutex while it waits for this goroutine, so the
// transition works lock-free on the status value.
func (s *BaseService) shutdownFromContext() {
	if !s.status.CompareAndSwap(StatusRunning, StatusStopping) {
		return // Stop() got there first
	}
	if s.registry != nil {
		s.registry.CoreMetrics().RecordServiceStatus(s.name, int(StatusStopping))
	}
	s.setHealthy(false)
	s.setStatus(StatusStopped)
	s.logger.Info("stopped on context cancellation")
}
