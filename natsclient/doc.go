// Package natsclient manages the platform's connection to NATS: core
// pub/sub for the event plane and JetStream key-value buckets for state.
//
// One Client is shared by every service in the process. The processing
// service publishes and subscribes attribute events through it, the
// gateway fans completion events out to WebSocket clients, the asset
// store keeps current state and datapoint series in KV buckets, and the
// config manager watches its bucket for runtime changes.
//
// # Connecting
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("assetmesh-core"),
//	    natsclient.WithCredentials(user, pass),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Connect failures feed a circuit: after five consecutive failures the
// client stops dialing and Connect returns ErrCircuitOpen until a
// doubling backoff elapses. A successful connect resets the circuit.
// Once connected, the underlying NATS connection reconnects on its own;
// the client tracks status transitions and reports them through
// GetStatus and the health-change callback.
//
// # Key-value state
//
// CreateKeyValueBucket opens (or creates) a bucket; NewKVStore wraps it
// with timeouts, a value-size limit, and retrying compare-and-swap:
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket: "assets",
//	})
//	store := client.NewKVStore(bucket)
//
//	err = store.UpdateWithRetry(ctx, assetID, func(current []byte) ([]byte, error) {
//	    // decode, apply the attribute change, encode
//	})
//
// UpdateWithRetry hides revision conflicts from the caller: concurrent
// writers to the same asset each re-read and re-apply until they land or
// the retry budget runs out (ErrKVMaxRetriesExceeded).
//
// # Temporal queries
//
// TemporalResolver answers historical questions against history-enabled
// buckets: what state an asset held at a past instant, or every revision
// that landed within a window.
//
//	resolver := natsclient.NewTemporalResolver(ctx, bucket)
//	entry, err := resolver.GetAtTimestamp(ctx, assetID, yesterday)
//
// # Testing
//
// TestClient runs a real NATS server in a container and hands back a
// connected Client:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithKV())
//	bucket, err := tc.CreateKVBucket(ctx, "assets")
//
// Container and client are torn down by t.Cleanup.
package natsclient
