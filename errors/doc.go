// Package errors provides standardized error handling patterns for AssetMesh components.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// This classification enables intelligent error handling strategies
// throughout the platform, allowing components to make informed decisions
// about retries, graceful degradation, and failure recovery without hardcoded
// error string matching.
//
// # Error Classification
//
// Errors are automatically classified based on their type or content:
//
//   - Transient: Network timeouts, connection issues, temporary unavailability (retry recommended)
//   - Invalid: Malformed input, validation failures, event rejections, bad configuration (do not retry)
//   - Fatal: Unrecoverable states (stop processing)
//
// Every ingress rejection (unknown asset or attribute, read-only violation,
// invalid execution request, future or stale timestamp, constraint violation)
// classifies as Invalid: the event is dropped, never retried, and the
// producer is responsible for re-sending if appropriate.
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Quick Start
//
// Return standard error variables for known conditions:
//
//	if attr.ReadOnly() && !northbound {
//	    return errors.ErrReadOnly
//	}
//
// Wrap errors with context for debugging:
//
//	if err := store.Put(ctx, a); err != nil {
//	    return errors.Wrap(err, "AssetStore", "Put", "persist asset")
//	}
//
// Check classification for retry logic:
//
//	if err := operation(); err != nil {
//	    if errors.IsTransient(err) {
//	        config := errors.DefaultRetryConfig()
//	        if config.ShouldRetry(err, attempt) {
//	            time.Sleep(config.BackoffDelay(attempt))
//	            // retry operation
//	        }
//	    }
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// This format enables consistent log parsing, debugging, and operational
// monitoring across the platform. The Wrap family of functions applies this
// pattern while preserving error classification through the chain:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // retryable
//	errors.WrapInvalid(err, "Component", "Method", "action")    // validation
//	errors.WrapFatal(err, "Component", "Method", "action")      // unrecoverable
//
// # Retry Integration
//
// RetryConfig bridges classification to the pkg/retry backoff engine:
//
//	rc := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, rc.ToRetryConfig(), func() error {
//	    return kvStore.Update(ctx, key, value, revision)
//	})
package errors
