// Package retry provides exponential backoff for transient failures.
//
// The platform uses it in two places: JetStream KV compare-and-set loops,
// where revision conflicts under concurrent writers are expected and cheap
// to redo, and connection establishment, where the broker may not be up
// yet. Both call [Do] or [DoWithResult] with one of the presets.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (startup, KV conflicts)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// A KV update loop looks like:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    current, rev, err := readState(ctx)
//	    if err != nil {
//	        return retry.NonRetryable(err)
//	    }
//	    return casWrite(ctx, apply(current), rev)
//	})
//
// Errors wrapped with [NonRetryable] abort the loop immediately; everything
// else retries until the attempts run out. The classified-errors package
// converts its own retry policies to [Config] via ToRetryConfig, so callers
// holding a classified error reuse the same backoff machinery.
//
// # Scope
//
// The package is deliberately small: exponential backoff with jitter and
// nothing else. No circuit breakers, no metrics, no error inspection beyond
// the NonRetryable marker. Callers that need to retry only some errors
// classify before retrying.
//
// All operations respect context cancellation, both while fn runs and
// during backoff sleeps, and every function is safe for concurrent use.
package retry
