package assetstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/config"
	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/natsclient"
)

// DefaultDatapointBucket is the JetStream KV bucket holding attribute
// time series.
const DefaultDatapointBucket = "assetmesh_datapoints"

// defaultSeriesDepth is the per-attribute sample window when config does not
// say otherwise. 64 is the JetStream per-key history ceiling.
const defaultSeriesDepth = 64

// Datapoint is one recorded sample of an attribute value.
type Datapoint struct {
	Value     asset.Value `json:"value"`
	Timestamp int64       `json:"timestamp"` // epoch ms
}

// Recorder stores and queries attribute time series.
type Recorder interface {
	// Append records one sample for the attribute.
	Append(ctx context.Context, ref asset.AttributeRef, value asset.Value, timestamp int64) error

	// Range returns samples with from <= timestamp <= to, oldest first.
	Range(ctx context.Context, ref asset.AttributeRef, from, to int64) ([]Datapoint, error)

	// Latest returns the most recent sample, ErrKeyNotFound when the
	// series is empty.
	Latest(ctx context.Context, ref asset.AttributeRef) (*Datapoint, error)

	// Close releases recorder resources.
	Close() error
}

// DatapointStore keeps attribute samples in a JetStream KV bucket, one key
// per attribute. The bucket's per-key revision history is the series: each
// Append is a Put and retention rides the bucket's history depth and TTL.
// Range queries go through a TemporalResolver so repeated reads of the same
// series hit a short-lived history cache instead of the bucket.
type DatapointStore struct {
	bucket   jetstream.KeyValue
	kv       *natsclient.KVStore
	resolver *natsclient.TemporalResolver
}

// NewDatapointStore creates (or binds to) the datapoint bucket.
func NewDatapointStore(ctx context.Context, client *natsclient.Client, cfg config.BucketConfig) (*DatapointStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"DatapointStore", "NewDatapointStore", "nats client cannot be nil")
	}

	name := cfg.Name
	if name == "" {
		name = DefaultDatapointBucket
	}
	depth := cfg.History
	if depth <= 0 || depth > defaultSeriesDepth {
		depth = defaultSeriesDepth
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Attribute datapoint time series",
		History:     uint8(depth),
		TTL:         cfg.TTL,
		MaxBytes:    cfg.MaxBytes,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "DatapointStore", "NewDatapointStore", "create KV bucket")
	}

	return &DatapointStore{
		bucket:   bucket,
		kv:       client.NewKVStore(bucket),
		resolver: natsclient.NewTemporalResolver(ctx, bucket),
	}, nil
}

// seriesKey flattens an attribute ref into a KV key. Colons are not legal in
// KV keys, so the ref's wire form is not reused here.
func seriesKey(ref asset.AttributeRef) string {
	return ref.AssetID + "." + ref.Name
}

// Append records one sample.
func (s *DatapointStore) Append(ctx context.Context, ref asset.AttributeRef, value asset.Value, timestamp int64) error {
	if !ref.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"DatapointStore", "Append", "invalid attribute ref")
	}

	data, err := json.Marshal(Datapoint{Value: value, Timestamp: timestamp})
	if err != nil {
		return errors.WrapFatal(err, "DatapointStore", "Append", "marshal datapoint")
	}

	if _, err := s.kv.Put(ctx, seriesKey(ref), data); err != nil {
		return errors.WrapTransient(err, "DatapointStore", "Append", "put to KV")
	}
	return nil
}

// Range returns samples in [from, to] by their recorded timestamps, oldest
// first. Filtering happens on the sample's own timestamp, not the KV write
// time, so late-arriving samples still land in the right window.
func (s *DatapointStore) Range(ctx context.Context, ref asset.AttributeRef, from, to int64) ([]Datapoint, error) {
	if !ref.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"DatapointStore", "Range", "invalid attribute ref")
	}

	entries, err := s.resolver.GetInTimeRange(ctx, seriesKey(ref), time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return []Datapoint{}, nil
		}
		return nil, errors.WrapTransient(err, "DatapointStore", "Range", "read series history")
	}

	out := make([]Datapoint, 0, len(entries))
	for _, entry := range entries {
		if entry.Operation() != jetstream.KeyValuePut {
			continue
		}
		var dp Datapoint
		if err := json.Unmarshal(entry.Value(), &dp); err != nil {
			return nil, errors.WrapFatal(err, "DatapointStore", "Range", "unmarshal datapoint")
		}
		if dp.Timestamp >= from && dp.Timestamp <= to {
			out = append(out, dp)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Latest returns the newest sample for the attribute.
func (s *DatapointStore) Latest(ctx context.Context, ref asset.AttributeRef) (*Datapoint, error) {
	if !ref.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"DatapointStore", "Latest", "invalid attribute ref")
	}

	entry, err := s.kv.Get(ctx, seriesKey(ref))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound,
				"DatapointStore", "Latest", ref.String())
		}
		return nil, errors.WrapTransient(err, "DatapointStore", "Latest", "get from KV")
	}

	var dp Datapoint
	if err := json.Unmarshal(entry.Value, &dp); err != nil {
		return nil, errors.WrapFatal(err, "DatapointStore", "Latest", "unmarshal datapoint")
	}
	return &dp, nil
}

// Close shuts down the resolver's history cache.
func (s *DatapointStore) Close() error {
	return s.resolver.Close()
}

// MemoryRecorder keeps series in memory with a bounded per-series depth,
// mirroring the KV store's history window. Used in memory storage mode and
// in tests.
type MemoryRecorder struct {
	mu     sync.RWMutex
	depth  int
	series map[asset.AttributeRef][]Datapoint
}

// NewMemoryRecorder creates a recorder keeping up to depth samples per
// attribute (default series depth when depth <= 0).
func NewMemoryRecorder(depth int) *MemoryRecorder {
	if depth <= 0 {
		depth = defaultSeriesDepth
	}
	return &MemoryRecorder{
		depth:  depth,
		series: make(map[asset.AttributeRef][]Datapoint),
	}
}

// Append records one sample, evicting the oldest past the depth window.
func (r *MemoryRecorder) Append(_ context.Context, ref asset.AttributeRef, value asset.Value, timestamp int64) error {
	if !ref.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"MemoryRecorder", "Append", "invalid attribute ref")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := append(r.series[ref], Datapoint{Value: value.Copy(), Timestamp: timestamp})
	if len(s) > r.depth {
		s = s[len(s)-r.depth:]
	}
	r.series[ref] = s
	return nil
}

// Range returns samples in [from, to], oldest first.
func (r *MemoryRecorder) Range(_ context.Context, ref asset.AttributeRef, from, to int64) ([]Datapoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Datapoint
	for _, dp := range r.series[ref] {
		if dp.Timestamp >= from && dp.Timestamp <= to {
			out = append(out, dp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Latest returns the newest sample by timestamp.
func (r *MemoryRecorder) Latest(_ context.Context, ref asset.AttributeRef) (*Datapoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.series[ref]
	if len(s) == 0 {
		return nil, errors.WrapInvalid(errors.ErrKeyNotFound,
			"MemoryRecorder", "Latest", ref.String())
	}

	latest := s[0]
	for _, dp := range s[1:] {
		if dp.Timestamp >= latest.Timestamp {
			latest = dp
		}
	}
	return &latest, nil
}

// Close is a no-op for the memory recorder.
func (r *MemoryRecorder) Close() error {
	return nil
}
