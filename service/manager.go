package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/c360/assetmesh/health"
	"github.com/c360/assetmesh/metric"
	"github.com/c360/assetmesh/natsclient"
	"github.com/c360/assetmesh/types"
)

// ManagerConfig holds configuration for the Manager HTTP server
type ManagerConfig struct {
	HTTPPort int `json:"http_port"`
}

// Validate checks if the configuration is valid
func (c ManagerConfig) Validate() error {
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	return nil
}

// HTTPHandler is an optional interface for services that expose HTTP
// endpoints through the manager's server.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

// Manager manages service lifecycle using a provided registry.
// Services are explicitly registered and created from raw JSON configs.
type Manager struct {
	*BaseService // Embed BaseService to implement Service interface

	registry *Registry
	services map[string]Service
	order    []string // Track creation order so shutdown can run in reverse
	mu       sync.RWMutex

	// HTTP server infrastructure
	httpServer *http.Server
	httpMux    *http.ServeMux
	config     ManagerConfig

	natsClient *natsclient.Client
}

// NewServiceManager creates a new service manager
func NewServiceManager(registry *Registry) *Manager {
	m := &Manager{
		registry: registry,
		services: make(map[string]Service),
	}
	m.BaseService = NewBaseServiceWithOptions("service-manager", nil)
	return m
}

// ConfigureFromServices configures the manager from the services config map.
func (m *Manager) ConfigureFromServices(services map[string]types.ServiceConfig, deps *Dependencies) error {
	logger := slog.Default()
	if deps != nil && deps.Logger != nil {
		logger = deps.Logger
	}

	cfg := ManagerConfig{HTTPPort: 8080}
	if smConfig, ok := services["service-manager"]; ok && smConfig.Enabled && len(smConfig.Config) > 0 {
		if err := json.Unmarshal(smConfig.Config, &cfg); err != nil {
			return fmt.Errorf("parse service-manager config: %w", err)
		}
		if cfg.HTTPPort == 0 {
			cfg.HTTPPort = 8080
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate service-manager config: %w", err)
	}
	m.config = cfg

	if deps != nil && deps.NATSClient != nil {
		m.natsClient = deps.NATSClient
	}

	var registry *metric.MetricsRegistry
	if deps != nil {
		registry = deps.MetricsRegistry
	}
	m.BaseService = NewBaseServiceWithOptions(
		"service-manager",
		nil,
		WithLogger(logger),
		WithMetrics(registry),
	)

	logger.Debug("Manager configured", "http_port", m.config.HTTPPort)
	return nil
}

// CreateService creates a service instance using the registered constructor
func (m *Manager) CreateService(name string, rawConfig json.RawMessage, deps *Dependencies) (Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[name]; exists {
		return nil, fmt.Errorf("service %s already created", name)
	}

	constructor, exists := m.registry.Constructor(name)
	if !exists {
		return nil, fmt.Errorf("no constructor registered for service %s", name)
	}

	service, err := constructor(rawConfig, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}

	m.services[name] = service
	m.order = append(m.order, name)

	return service, nil
}

// AddService registers an externally constructed service instance so it
// joins lifecycle management and health reporting. Services with typed
// dependency structs are built by the caller and added here; CreateService
// stays the path for constructor-registered services.
func (m *Manager) AddService(name string, svc Service) error {
	if name == "" || svc == nil {
		return fmt.Errorf("service name and instance required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[name]; exists {
		return fmt.Errorf("service %s already created", name)
	}
	m.services[name] = svc
	m.order = append(m.order, name)
	return nil
}

// GetService returns a service instance by name
func (m *Manager) GetService(name string) (Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	service, exists := m.services[name]
	return service, exists
}

// GetAllServices returns all registered service instances
func (m *Manager) GetAllServices() map[string]Service {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Service, len(m.services))
	for name, service := range m.services {
		result[name] = service
	}
	return result
}

// StartAll starts all created services in creation order, then brings up the
// HTTP server with every service handler registered.
func (m *Manager) StartAll(ctx context.Context) error {
	logger := m.logger
	if logger == nil {
		logger = slog.Default()
	}

	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	services := make(map[string]Service, len(m.services))
	for name, service := range m.services {
		services[name] = service
	}
	m.mu.RUnlock()

	logger.Debug("Beginning service startup sequence", "service_count", len(order))

	for _, name := range order {
		service := services[name]
		if err := service.Start(ctx); err != nil {
			logger.Error("Failed to start service", "name", name, "error", err)
			return fmt.Errorf("failed to start service %s: %w", name, err)
		}
		logger.Debug("Service started", "name", name)
	}

	if err := m.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	return m.BaseService.Start(ctx)
}

// StopAll stops the HTTP server and every service in reverse creation order.
func (m *Manager) StopAll(timeout time.Duration) error {
	logger := m.logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := m.stopHTTPServer(); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	services := make(map[string]Service, len(m.services))
	for name, service := range m.services {
		services[name] = service
	}
	m.mu.RUnlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := services[name].Stop(timeout); err != nil {
			logger.Error("Failed to stop service", "name", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to stop service %s: %w", name, err)
			}
			continue
		}
		logger.Debug("Service stopped", "name", name)
	}

	if err := m.BaseService.Stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// startHTTPServer registers system and service handlers and begins listening.
func (m *Manager) startHTTPServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpServer != nil {
		return fmt.Errorf("HTTP server already started")
	}

	m.httpMux = http.NewServeMux()
	m.registerSystemEndpoints()

	for name, service := range m.services {
		if handler, ok := service.(HTTPHandler); ok {
			handler.RegisterHTTPHandlers("/"+name, m.httpMux)
		}
	}

	m.httpServer = &http.Server{
		Addr:         ":" + strconv.Itoa(m.config.HTTPPort),
		Handler:      m.httpMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Capture server reference before goroutine to avoid race condition
	server := m.httpServer
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// stopHTTPServer stops the HTTP server gracefully
func (m *Manager) stopHTTPServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	m.httpServer = nil
	m.httpMux = nil
	return nil
}

// registerSystemEndpoints registers system-wide health endpoints
func (m *Manager) registerSystemEndpoints() {
	m.httpMux.HandleFunc("/health", m.handleSystemHealth)
	m.httpMux.HandleFunc("/healthz", m.handleLiveness)
	m.httpMux.HandleFunc("/readyz", m.handleReadiness)

	m.httpMux.HandleFunc("/services", m.handleServiceList)
	m.httpMux.HandleFunc("/services/health", m.handleServicesHealth)
}

// handleSystemHealth returns aggregated system health
func (m *Manager) handleSystemHealth(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subStatuses []health.Status
	for _, service := range m.services {
		subStatuses = append(subStatuses, service.Health())
	}

	if m.natsClient != nil {
		natsStatus := m.natsClient.GetStatus()
		if natsStatus.Status == natsclient.StatusConnected {
			subStatuses = append(subStatuses, health.NewHealthy("nats",
				fmt.Sprintf("Connected (RTT: %v)", natsStatus.RTT)))
		} else {
			subStatuses = append(subStatuses, health.NewUnhealthy("nats",
				fmt.Sprintf("Disconnected: %s (failures: %d)",
					natsStatus.Status.String(), natsStatus.FailureCount)))
		}
	}

	systemHealth := health.Aggregate("system", subStatuses)

	w.Header().Set("Content-Type", "application/json")
	if systemHealth.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(systemHealth); err != nil {
		m.logger.Error("Failed to encode system health response", "error", err)
	}
}

// handleLiveness is a simple liveness probe
func (m *Manager) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReadiness checks if all services are running and healthy
func (m *Manager) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ready := true
	for _, service := range m.services {
		if service.Status() != StatusRunning || !service.IsHealthy() {
			ready = false
			break
		}
	}

	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY"))
	}
}

// handleServiceList returns a list of all registered services
func (m *Manager) handleServiceList(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make([]map[string]any, 0, len(m.services))
	for name, service := range m.services {
		services = append(services, map[string]any{
			"name":    name,
			"status":  service.Status().String(),
			"healthy": service.IsHealthy(),
		})
	}

	response := map[string]any{
		"services": services,
		"count":    len(services),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		m.logger.Error("Failed to encode services list", "error", err)
	}
}

// handleServicesHealth returns detailed health information for all services
func (m *Manager) handleServicesHealth(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var serviceStatuses []health.Status
	for _, service := range m.services {
		serviceStatuses = append(serviceStatuses, service.Health())
	}

	response := struct {
		Overall  health.Status   `json:"overall"`
		Services []health.Status `json:"services"`
	}{
		Overall:  health.Aggregate("services", serviceStatuses),
		Services: serviceStatuses,
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Overall.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		m.logger.Error("Failed to encode services health response", "error", err)
	}
}
