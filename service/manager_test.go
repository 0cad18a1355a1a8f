package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/types"
)

// orderedService records start/stop calls so tests can assert sequencing.
type orderedService struct {
	*BaseService

	mu    *sync.Mutex
	calls *[]string
}

func (s *orderedService) Start(ctx context.Context) error {
	s.mu.Lock()
	*s.calls = append(*s.calls, "start:"+s.Name())
	s.mu.Unlock()
	return s.BaseService.Start(ctx)
}

func (s *orderedService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	*s.calls = append(*s.calls, "stop:"+s.Name())
	s.mu.Unlock()
	return s.BaseService.Stop(timeout)
}

func orderedConstructor(name string, mu *sync.Mutex, calls *[]string) Constructor {
	return func(_ json.RawMessage, _ *Dependencies) (Service, error) {
		return &orderedService{
			BaseService: NewBaseServiceWithOptions(name, nil, WithLogger(testLogger())),
			mu:          mu,
			calls:       calls,
		}, nil
	}
}

func TestManagerCreateService(t *testing.T) {
	registry := NewServiceRegistry()
	require.NoError(t, registry.Register("alpha", noopConstructor))

	m := NewServiceManager(registry)

	svc, err := m.CreateService("alpha", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, svc)

	got, exists := m.GetService("alpha")
	assert.True(t, exists)
	assert.Same(t, svc, got)

	_, err = m.CreateService("alpha", nil, nil)
	assert.Error(t, err, "second create for the same name must fail")

	_, err = m.CreateService("missing", nil, nil)
	assert.Error(t, err)

	assert.Len(t, m.GetAllServices(), 1)
}

func TestManagerStartStopOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []string

	registry := NewServiceRegistry()
	require.NoError(t, registry.Register("first", orderedConstructor("first", &mu, &calls)))
	require.NoError(t, registry.Register("second", orderedConstructor("second", &mu, &calls)))

	m := NewServiceManager(registry)
	services := map[string]types.ServiceConfig{
		"service-manager": {
			Name:    "service-manager",
			Enabled: true,
			Config:  json.RawMessage(`{"http_port": 18091}`),
		},
	}
	require.NoError(t, m.ConfigureFromServices(services, &Dependencies{Logger: testLogger()}))

	_, err := m.CreateService("first", nil, nil)
	require.NoError(t, err)
	_, err = m.CreateService("second", nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"start:first",
		"start:second",
		"stop:second",
		"stop:first",
	}, calls, "services start in creation order and stop in reverse")
}

func TestManagerConfigureFromServices(t *testing.T) {
	m := NewServiceManager(NewServiceRegistry())

	services := map[string]types.ServiceConfig{
		"service-manager": {
			Name:    "service-manager",
			Enabled: true,
			Config:  json.RawMessage(`{"http_port": 18090}`),
		},
	}
	require.NoError(t, m.ConfigureFromServices(services, &Dependencies{Logger: testLogger()}))
	assert.Equal(t, 18090, m.config.HTTPPort)

	bad := map[string]types.ServiceConfig{
		"service-manager": {
			Name:    "service-manager",
			Enabled: true,
			Config:  json.RawMessage(`{"http_port": 99999}`),
		},
	}
	assert.Error(t, NewServiceManager(NewServiceRegistry()).ConfigureFromServices(bad, nil))
}

func TestManagerLivenessHandler(t *testing.T) {
	m := NewServiceManager(NewServiceRegistry())

	rec := httptest.NewRecorder()
	m.handleLiveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestManagerReadinessHandler(t *testing.T) {
	registry := NewServiceRegistry()
	require.NoError(t, registry.Register("alpha", noopConstructor))

	m := NewServiceManager(registry)
	svc, err := m.CreateService("alpha", nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "stopped service is not ready")

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		m.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code == http.StatusOK
	}, time.Second, 20*time.Millisecond)
}

func TestManagerServiceListHandler(t *testing.T) {
	registry := NewServiceRegistry()
	require.NoError(t, registry.Register("alpha", noopConstructor))

	m := NewServiceManager(registry)
	_, err := m.CreateService("alpha", nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.handleServiceList(rec, httptest.NewRequest(http.MethodGet, "/services", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Services []map[string]any `json:"services"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Count)
	require.Len(t, response.Services, 1)
	assert.Equal(t, "alpha", response.Services[0]["name"])
}
