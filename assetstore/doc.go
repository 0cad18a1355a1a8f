// Package assetstore provides persistence for assets and attribute
// time series.
//
// # Overview
//
// Assets are stored whole: one JSON document per asset holding identity,
// kind, realm and the attribute map. The write path of the processing
// pipeline goes through Store.UpdateAttribute, which applies an update
// function to one attribute atomically with respect to concurrent updates of
// the same asset. The ordering gate does its check-timestamp-then-set inside
// that function, so a stale event can never slip past a concurrent fresher
// write.
//
// # Storage modes
//
// Three implementations share the Store interface, selected by
// storage.mode in config:
//
//   - memory: map + RWMutex, deep copies in and out. Single node, no
//     persistence. UpdateAttribute serializes on the store lock.
//   - kv: one JetStream KV bucket ("assetmesh_assets"), one key per asset.
//     UpdateAttribute runs a CAS loop (UpdateWithRetry): on revision
//     conflict the asset is re-fetched and the update function re-applied
//     to fresh state.
//   - hybrid: the KV store fronted by a read cache (pkg/cache). Writes go
//     to KV first and invalidate the cached entry.
//
// # Datapoints
//
// Attribute time series live in a second bucket ("assetmesh_datapoints"),
// one key per attribute. Each sample is a Put; the bucket's per-key history
// is the series and retention rides the bucket's history depth and TTL.
// Range queries use a TemporalResolver so repeated reads hit a short-lived
// history cache. A MemoryRecorder mirrors the same window semantics for
// memory mode and tests.
//
// # Error classification
//
//   - WrapInvalid: missing assets/attributes, bad refs, update rejections
//   - WrapTransient: NATS KV errors, CAS exhaustion
//   - WrapFatal: marshal/unmarshal failures
package assetstore
