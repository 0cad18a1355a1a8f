package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// telemetryIngester stands in for a service that owns domain collectors.
// Metric names are scoped by the service name, the way real services
// build theirs, so differently-named instances coexist in one registry.
type telemetryIngester struct {
	name             string
	readingsIngested *prometheus.CounterVec
	bufferDepth      prometheus.Gauge
}

func newTelemetryIngester(name string) *telemetryIngester {
	return &telemetryIngester{name: name}
}

func (s *telemetryIngester) RegisterMetrics(registrar MetricsRegistrar) error {
	s.readingsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetmesh",
		Subsystem: s.name,
		Name:      "readings_ingested_total",
		Help:      "Device readings accepted by this ingester",
	}, []string{"source"})
	if err := registrar.RegisterCounterVec(s.name, "readings_ingested_total", s.readingsIngested); err != nil {
		return err
	}

	s.bufferDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "assetmesh",
		Subsystem: s.name,
		Name:      "buffer_depth",
		Help:      "Readings buffered awaiting flush",
	})
	return registrar.RegisterGauge(s.name, "buffer_depth", s.bufferDepth)
}

func (s *telemetryIngester) Ingest(source string, readings, buffered int) {
	s.readingsIngested.WithLabelValues(source).Add(float64(readings))
	s.bufferDepth.Set(float64(buffered))
}

func TestMetricsIntegration_ServiceRegistration(t *testing.T) {
	registry := NewMetricsRegistry()
	ingester := newTelemetryIngester("modbus")

	require.NoError(t, ingester.RegisterMetrics(registry))
	ingester.Ingest("plc-4", 10, 5)

	names := gatherNames(t, registry)
	assert.True(t, names["assetmesh_modbus_readings_ingested_total"])
	assert.True(t, names["assetmesh_modbus_buffer_depth"])

	assert.Equal(t, 10.0, testutil.ToFloat64(ingester.readingsIngested.WithLabelValues("plc-4")))
	assert.Equal(t, 5.0, testutil.ToFloat64(ingester.bufferDepth))
}

func TestMetricsIntegration_DuplicateService(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, newTelemetryIngester("mqtt").RegisterMetrics(registry))

	// A second instance under the same service name must be rejected
	// before it reaches Prometheus.
	err := newTelemetryIngester("mqtt").RegisterMetrics(registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestMetricsIntegration_ServicesCoexist(t *testing.T) {
	registry := NewMetricsRegistry()

	modbus := newTelemetryIngester("modbus")
	mqtt := newTelemetryIngester("mqtt")

	require.NoError(t, modbus.RegisterMetrics(registry))
	require.NoError(t, mqtt.RegisterMetrics(registry))

	modbus.Ingest("plc-4", 3, 1)
	mqtt.Ingest("broker-1", 7, 2)

	names := gatherNames(t, registry)
	assert.True(t, names["assetmesh_modbus_readings_ingested_total"])
	assert.True(t, names["assetmesh_mqtt_readings_ingested_total"])
}

func TestMetricsIntegration_CoreAndServiceSeparate(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	ingester := newTelemetryIngester("opcua")
	require.NoError(t, ingester.RegisterMetrics(registry))

	// Lifecycle metrics come from the platform, domain metrics from the
	// service. Both land in the same scrape output.
	core.RecordServiceStatus("opcua", 2)
	core.RecordEventsProcessed("opcua", 12)
	ingester.Ingest("server-2", 12, 0)

	names := gatherNames(t, registry)
	assert.True(t, names["assetmesh_service_status"])
	assert.True(t, names["assetmesh_service_events_processed_total"])
	assert.True(t, names["assetmesh_opcua_readings_ingested_total"])
	assert.True(t, names["assetmesh_opcua_buffer_depth"])
}

func TestMetricsIntegration_Teardown(t *testing.T) {
	registry := NewMetricsRegistry()

	ingester := newTelemetryIngester("canbus")
	require.NoError(t, ingester.RegisterMetrics(registry))
	ingester.Ingest("bus-0", 1, 1)

	assert.True(t, gatherNames(t, registry)["assetmesh_canbus_readings_ingested_total"])

	assert.True(t, registry.Unregister("canbus", "readings_ingested_total"))

	names := gatherNames(t, registry)
	assert.False(t, names["assetmesh_canbus_readings_ingested_total"],
		"torn-down collector should leave the scrape output")
	assert.True(t, names["assetmesh_canbus_buffer_depth"],
		"sibling collectors stay registered")
}
