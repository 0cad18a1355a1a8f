// Package assetmesh is the event-processing core of an IoT asset and device
// management platform: attribute value changes flow in from device protocols
// and user clients, are validated and ordered per attribute, and are driven
// through a fixed chain of consumers that apply side effects (rule
// evaluation, device actuation, durable storage, time-series recording).
//
// # Architecture
//
// Services communicate over NATS subjects; JetStream KV buckets hold durable
// state. The pipeline for one attribute event:
//
//	protocol adapter ──► assets.events.sensor.<protocol> ─┐
//	                                                      │
//	client / gateway ──► assets.events.client ────────────┤
//	                                                      ▼
//	                                          ┌────────────────────┐
//	                                          │   Ingress Gate     │  resolve, reject
//	                                          │  (ordering checks) │  stale/future/invalid
//	                                          └─────────┬──────────┘
//	                                                    ▼
//	                                          ┌────────────────────┐
//	                                          │     Dispatcher     │  rules → agent →
//	                                          │  (consumer chain)  │  storage → datapoint
//	                                          └─────────┬──────────┘
//	                                                    ▼
//	                              assets.events.completed.<asset>.<attribute>
//	                                                    │
//	                                          ┌─────────▼──────────┐
//	                                          │  WebSocket gateway │  authorized
//	                                          │   (subscriptions)  │  fan-out
//	                                          └────────────────────┘
//
// The agent layer links attributes to protocol implementations. The macro
// protocol ships as the reference implementation: an ordered, optionally
// repeating sequence of attribute writes with inter-step delays, executed
// and cancelled on request through executable attributes. Macro action
// writes re-enter the gate northbound on assets.events.sensor.macro.
//
// # Packages
//
// Domain:
//   - asset: attribute/asset data model, value descriptors, processing records
//   - assetstore: asset persistence (memory, JetStream KV, hybrid with cache)
//   - processing: ingress gate, ordering checks, consumer-chain dispatcher
//   - protocol: protocol contract, link registry, deployment status
//   - protocol/macro: macro payload codec and execution engine
//   - consumer/rules: fact map + JS rule conditions (goja)
//   - consumer/agent: routes linked southbound writes to protocols
//   - consumer/storage: persists updated assets
//   - consumer/datapoint: time-series recording for flagged attributes
//   - gateway: WebSocket subscriptions, authorization, client writes
//   - identity: identity model and subscription authorization
//   - provision: YAML asset catalog, bootstrap and hot reload
//
// Infrastructure:
//   - natsclient: NATS connection management, KV stores
//   - service: service lifecycle, registry, manager
//   - config: configuration loading and validation
//   - metric: Prometheus metrics
//   - errors: structured error handling
//   - health: health check system
//   - pkg/timestamp, pkg/retry, pkg/buffer, pkg/cache: utilities
//
// # Ordering guarantees
//
// Per attribute, accepted event timestamps are strictly increasing: an event
// whose timestamp is not newer than the attribute's recorded timestamp is
// dropped, and an event more than one second ahead of the gate's clock is
// dropped. Reordered events are discarded rather than buffered. The check
// and the write are one atomic step per attribute.
//
// # Binary
//
//	# Run with a config file and provisioning catalog
//	./bin/assetmesh --config configs/example.json
//
//	# Validate configuration only
//	./bin/assetmesh --validate
package assetmesh
