// Package asset defines the data model that flows through the event pipeline:
// assets and their attributes, attribute references and events, value
// descriptors with constraint validation, processing records, and execution
// status values for executable attributes.
//
// # Identity
//
// An AttributeRef (asset ID + attribute name) uniquely identifies one
// attribute of one asset and is used as a map key everywhere: the resident
// attribute state, protocol links, and live macro executions are all keyed
// by it.
//
// # Time
//
// All timestamps are Unix milliseconds (pkg/timestamp). An attribute whose
// Timestamp is negative has never been set; the ingress gate's ordering
// check only applies once a timestamp has been recorded.
//
// # Processing records
//
// An AssetState is created per accepted event and carries the asset
// snapshot, the old and new value/timestamp, and the event's direction
// (northbound = device origin). Consumers mutate its ProcessingStatus
// during one dispatch pass; status transitions only move forward and
// terminal states are final within the pass.
package asset
