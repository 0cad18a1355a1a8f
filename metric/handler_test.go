package metric

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/pkg/security"
)

func TestServer_ServesScrapeEndpoint(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordServiceStatus("gateway", 2)

	server := NewServer(0, "", registry, security.Config{})
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()

	assert.NotZero(t, server.Port(), "ephemeral port should be resolved after Start")

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "assetmesh_service_status")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServer_HealthEndpoint(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry(), security.Config{})
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", server.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestServer_CustomPath(t *testing.T) {
	server := NewServer(0, "/prometheus", NewMetricsRegistry(), security.Config{})
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()

	assert.Contains(t, server.Address(), "/prometheus")

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartTwice(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry(), security.Config{})
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()

	err := server.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServer_BindConflict(t *testing.T) {
	first := NewServer(0, "", NewMetricsRegistry(), security.Config{})
	require.NoError(t, first.Start())
	defer func() { _ = first.Stop() }()

	// Start binds before returning, so an occupied port fails here
	// rather than inside the serve goroutine.
	second := NewServer(first.Port(), "", NewMetricsRegistry(), security.Config{})
	require.Error(t, second.Start())
}

func TestServer_StopAndRestart(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry(), security.Config{})

	require.NoError(t, server.Stop(), "stopping a server that never started is a no-op")

	require.NoError(t, server.Start())
	require.NoError(t, server.Stop())

	require.NoError(t, server.Start())
	require.NoError(t, server.Stop())
}

func TestServer_NilRegistry(t *testing.T) {
	server := NewServer(0, "", nil, security.Config{})

	err := server.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry")
}
