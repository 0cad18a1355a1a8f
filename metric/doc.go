// Package metric provides Prometheus metrics collection and exposure
// for AssetMesh platforms.
//
// A MetricsRegistry owns the process-wide Prometheus registry. It
// pre-registers the platform metric set (service status, health, and
// events processed, all labeled by service) together with the standard
// Go runtime and process collectors. Services add their own collectors
// through the MetricsRegistrar interface, and the Server exposes the
// whole registry over HTTP for scraping.
//
// # Platform metrics
//
// The lifecycle manager records these automatically for every managed
// service; nothing in a service implementation needs to touch them:
//
//	assetmesh_service_status{service="gateway"} 2
//	assetmesh_service_healthy{service="gateway"} 1
//	assetmesh_service_events_processed_total{service="gateway"} 41289
//
// Status values follow the service lifecycle: 0 stopped, 1 starting,
// 2 running, 3 stopping.
//
// # Service metrics
//
// Domain collectors (pipeline stages, gateway sessions, store
// operations) belong to the service that produces them. Register them
// under the service's name so teardown can unregister cleanly:
//
//	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Name: "assetmesh_gateway_queue_depth",
//	    Help: "Messages waiting for dispatch",
//	})
//	if err := registry.RegisterGauge("gateway", "queue_depth", queueDepth); err != nil {
//	    return err
//	}
//	defer registry.Unregister("gateway", "queue_depth")
//
// Registering the same service/metric pair twice fails with an invalid
// error, as does a Prometheus name collision across services. Services
// that build whole collector groups at once can register them directly
// on PrometheusRegistry().
//
// # HTTP exposure
//
// Server binds its listener during Start, so address conflicts surface
// immediately. Port 0 requests an ephemeral port; Address reports the
// real scrape URL once running.
//
//	server := metric.NewServer(9090, "/metrics", registry, securityCfg)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop()
//	log.Printf("scrape %s", server.Address())
//
// The endpoint serves the OpenMetrics format when negotiated and plain
// Prometheus text otherwise. A /health endpoint answers liveness
// probes. When platform TLS is enabled the server loads its certificate
// through pkg/tlsutil and serves HTTPS.
package metric
