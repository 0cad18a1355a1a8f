package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/pkg/security"
)

// Metrics exposes the platform's Prometheus registry over HTTP. It runs
// as a managed service so the scrape endpoint starts and stops with the
// rest of the platform.
type Metrics struct {
	*BaseService

	config   MetricsConfig
	registry *metric.MetricsRegistry
	security security.Config

	srvMu  sync.RWMutex
	server *metric.Server
}

// MetricsConfig holds the scrape endpoint settings.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// Validate checks the configuration.
func (c MetricsConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Path == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}
	return nil
}

// NewMetrics builds the metrics service. Defaults are port 9090 and
// path /metrics; TLS follows the platform security configuration.
func NewMetrics(rawConfig json.RawMessage, deps *Dependencies) (Service, error) {
	var cfg MetricsConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse metrics config: %w", err)
		}
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate metrics config: %w", err)
	}

	var securityCfg security.Config
	if deps.Manager != nil {
		if fullConfig := deps.Manager.GetConfig(); fullConfig != nil {
			securityCfg = fullConfig.Get().Security
		}
	}

	m := &Metrics{
		BaseService: NewBaseServiceWithOptions(
			"metrics",
			nil,
			WithLogger(deps.Logger),
			WithMetrics(deps.MetricsRegistry),
		),
		config:   cfg,
		registry: deps.MetricsRegistry,
		security: securityCfg,
	}
	m.SetHealthCheck(m.healthCheck)
	return m, nil
}

// Start brings up the HTTP server, then the base lifecycle. The server
// binds before Start returns, so a port conflict fails startup instead
// of dying in a background goroutine.
func (m *Metrics) Start(ctx context.Context) error {
	m.srvMu.Lock()
	if m.server != nil {
		m.srvMu.Unlock()
		return fmt.Errorf("metrics server already started")
	}
	server := metric.NewServer(m.config.Port, m.config.Path, m.registry, m.security)
	if err := server.Start(); err != nil {
		m.srvMu.Unlock()
		return fmt.Errorf("start metrics server: %w", err)
	}
	m.server = server
	m.srvMu.Unlock()

	if err := m.BaseService.Start(ctx); err != nil {
		_ = server.Stop()
		m.srvMu.Lock()
		m.server = nil
		m.srvMu.Unlock()
		return err
	}

	m.logger.Info("Metrics endpoint up", "url", server.Address())
	return nil
}

// Stop drains the HTTP server, then stops the base lifecycle. The base
// always stops, even when the server shutdown reports an error.
func (m *Metrics) Stop(timeout time.Duration) error {
	m.srvMu.Lock()
	server := m.server
	m.server = nil
	m.srvMu.Unlock()

	var srvErr error
	if server != nil {
		if srvErr = server.Stop(); srvErr != nil {
			srvErr = fmt.Errorf("stop metrics server: %w", srvErr)
		}
	}

	if err := m.BaseService.Stop(timeout); err != nil {
		return err
	}
	return srvErr
}

func (m *Metrics) healthCheck() error {
	m.srvMu.RLock()
	defer m.srvMu.RUnlock()

	if m.server == nil {
		return fmt.Errorf("metrics server not running")
	}
	return nil
}

// Port returns the bound port while running, or the configured port.
func (m *Metrics) Port() int {
	m.srvMu.RLock()
	defer m.srvMu.RUnlock()

	if m.server != nil {
		return m.server.Port()
	}
	return m.config.Port
}

// Path returns the scrape endpoint path.
func (m *Metrics) Path() string { return m.config.Path }

// URL returns the scrape endpoint URL.
func (m *Metrics) URL() string {
	m.srvMu.RLock()
	defer m.srvMu.RUnlock()

	if m.server != nil {
		return m.server.Address()
	}
	scheme := "http"
	if m.security.TLS.Server.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, m.config.Port, m.config.Path)
}
