package natsclient

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360/assetmesh/metric"
	"github.com/nats-io/nats.go/jetstream"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	assert.True(t, tc.Client.IsHealthy())
	assert.Equal(t, StatusConnected, tc.Client.Status())

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	st := tc.Client.GetStatus()
	assert.Equal(t, StatusConnected, st.Status)
	assert.Greater(t, st.RTT, time.Duration(0))

	require.NoError(t, tc.Client.Close(ctx))
	assert.Equal(t, StatusDisconnected, tc.Client.Status())
	require.NoError(t, tc.Client.Close(ctx), "close is idempotent")
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	received := make(chan string, 1)
	err := tc.Client.Subscribe(ctx, "assets.events.telemetry", func(_ context.Context, data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)

	payload := `{"asset_id":"pump-7","temp_c":41.2}`
	require.NoError(t, tc.Client.Publish(ctx, "assets.events.telemetry", []byte(payload)))

	select {
	case msg := <-received:
		assert.Equal(t, payload, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry event not received")
	}
}

// SubscribeSubject hands the handler the concrete subject, which is how
// gateways demultiplex wildcard subscriptions.
func TestIntegration_SubscribeSubjectWildcard(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	type event struct {
		subject string
		data    string
	}
	received := make(chan event, 2)
	err := tc.Client.SubscribeSubject(ctx, "assets.events.*", func(_ context.Context, subject string, data []byte) {
		received <- event{subject, string(data)}
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "assets.events.modbus", []byte("reading-1")))
	require.NoError(t, tc.Client.Publish(ctx, "assets.events.opcua", []byte("reading-2")))

	got := make(map[string]string, 2)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-received:
			got[ev.subject] = ev.data
		case <-time.After(2 * time.Second):
			t.Fatal("wildcard subscription missed an event")
		}
	}
	assert.Equal(t, "reading-1", got["assets.events.modbus"])
	assert.Equal(t, "reading-2", got["assets.events.opcua"])
}

func TestIntegration_KeyValueBucketLifecycle(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "asset-state",
	})
	require.NoError(t, err)
	require.NotNil(t, bucket)

	// Creating an existing bucket adopts it instead of failing.
	again, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "asset-state",
	})
	require.NoError(t, err)
	require.NotNil(t, again)

	_, err = bucket.Put(ctx, "asset.pump-7", []byte(`{"status":"running"}`))
	require.NoError(t, err)

	fetched, err := tc.Client.GetKeyValueBucket(ctx, "asset-state")
	require.NoError(t, err)
	entry, err := fetched.Get(ctx, "asset.pump-7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running"}`, string(entry.Value()))

	require.NoError(t, tc.Client.DeleteKeyValueBucket(ctx, "asset-state"))
	_, err = tc.Client.GetKeyValueBucket(ctx, "asset-state")
	assert.Error(t, err, "deleted bucket is gone")
}

func TestIntegration_DisconnectDetection(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	var disconnected atomic.Bool
	healthChanges := make(chan bool, 10)

	client, err := NewClient(tc.URL,
		WithHealthInterval(100*time.Millisecond),
		WithMaxReconnects(0),
		WithDisconnectCallback(func(_ error) {
			disconnected.Store(true)
		}),
		WithHealthChangeCallback(func(healthy bool) {
			select {
			case healthChanges <- healthy:
			default:
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	select {
	case healthy := <-healthChanges:
		assert.True(t, healthy)
	case <-time.After(time.Second):
		t.Fatal("no health callback after connect")
	}

	// Kill the server out from under the client.
	require.NoError(t, tc.Terminate())

	require.Eventually(t, func() bool {
		return !client.IsHealthy()
	}, 5*time.Second, 100*time.Millisecond, "probe never noticed the dead server")
	assert.True(t, disconnected.Load())
}

// The occupancy poller exports per-bucket gauges, one value per tracked
// bucket, so operators can watch asset counts grow.
func TestIntegration_BucketMetrics(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	registry := metric.NewMetricsRegistry()
	client, err := NewClient(tc.URL, WithMetrics(registry), WithHealthInterval(0))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "asset-state"})
	require.NoError(t, err)

	bucket, err := client.GetKeyValueBucket(ctx, "asset-state")
	require.NoError(t, err)
	store := client.NewKVStore(bucket)
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("asset.sensor-%d", i)
		_, err := store.Put(ctx, key, []byte(`{"status":"online"}`))
		require.NoError(t, err)
	}

	// Refresh immediately rather than waiting for the poller interval.
	client.metrics.updateBucketStats(ctx)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[*mf.Name] = mf
	}

	connected := byName["assetmesh_nats_connected"]
	require.NotNil(t, connected)
	assert.Equal(t, float64(1), *connected.Metric[0].Gauge.Value)

	values := byName["assetmesh_nats_kv_bucket_values"]
	require.NotNil(t, values, "bucket occupancy gauge should exist")
	require.Len(t, values.Metric, 1)
	assert.Equal(t, "asset-state", *values.Metric[0].Label[0].Value)
	assert.Equal(t, float64(3), *values.Metric[0].Gauge.Value)

	bytes := byName["assetmesh_nats_kv_bucket_bytes"]
	require.NotNil(t, bytes)
	assert.Greater(t, *bytes.Metric[0].Gauge.Value, float64(0))
}
