package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/assetmesh/pkg/retry"
)

// ErrorClass sorts failures by how callers should react: retry, reject, or stop.
type ErrorClass int

const (
	// ErrorTransient marks temporary failures worth retrying
	ErrorTransient ErrorClass = iota
	// ErrorInvalid marks bad input or rejected writes; never retried
	ErrorInvalid
	// ErrorFatal marks unrecoverable failures that should stop processing
	ErrorFatal
)

// String returns the lowercase label used in logs and metrics.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and networking errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// Data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")

	// Storage and persistence errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrRateLimited = errors.New("rate limited")

	// Circuit breaker and retry errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// Attribute event rejection and pipeline errors. The ingress gate rejects an
// event with exactly one of these; rejections are terminal and never retried.
var (
	// ErrAssetNotFound means the event names an asset the store does not hold
	ErrAssetNotFound = errors.New("asset not found")
	// ErrAttributeNotFound means the asset exists but has no such attribute
	ErrAttributeNotFound = errors.New("attribute not found")
	// ErrAgentUpdate means the event targets an agent asset's attribute,
	// which cannot be updated through the event path
	ErrAgentUpdate = errors.New("agent attributes cannot be updated via events")
	// ErrReadOnly means a client-origin event targets a read-only attribute
	ErrReadOnly = errors.New("attribute is read only")
	// ErrInvalidExecutionRequest means a client-origin write to an executable
	// attribute carried a value that is not a valid execution request
	ErrInvalidExecutionRequest = errors.New("invalid execution request value")
	// ErrFutureTimestamp means the event timestamp is too far ahead of the clock
	ErrFutureTimestamp = errors.New("event timestamp in the future")
	// ErrStaleTimestamp means the event timestamp is not newer than the
	// attribute's recorded timestamp
	ErrStaleTimestamp = errors.New("event timestamp is stale")
	// ErrConstraintViolation means the value failed the attribute's type or
	// constraint validation
	ErrConstraintViolation = errors.New("value constraint violation")
	// ErrInvalidProtocolConfig means a protocol configuration payload failed
	// validation; the configuration degrades instead of erroring callers
	ErrInvalidProtocolConfig = errors.New("invalid protocol configuration")
	// ErrConfigurationNotFound means a linked attribute points at a protocol
	// configuration the registry no longer holds
	ErrConfigurationNotFound = errors.New("protocol configuration not found")
	// ErrConsumerFailure means a consumer in the dispatch chain failed
	ErrConsumerFailure = errors.New("consumer failure")
	// ErrSubscriptionDenied means an event subscription failed authorization
	ErrSubscriptionDenied = errors.New("subscription denied")
	// ErrWriteDenied means a client attribute write failed authorization
	ErrWriteDenied = errors.New("write denied")
)

// Classification tables. Sentinels decide by identity; fragments are a
// last-resort scan over the rendered message for errors that come out of
// third-party code without ever passing through our wrappers.
var (
	transientSentinels = []error{
		ErrConnectionTimeout,
		ErrConnectionLost,
		ErrStorageUnavailable,
		ErrRateLimited,
		ErrCircuitOpen,
		context.DeadlineExceeded,
		context.Canceled,
	}
	transientFragments = []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
		"retry",
	}

	fatalSentinels = []error{
		ErrInvalidConfig,
		ErrMissingConfig,
	}
	fatalFragments = []string{
		"fatal",
		"panic",
		"invalid config",
		"missing config",
		"out of memory",
		"disk full",
	}

	// invalidSentinels includes every gate rejection: rejections are
	// terminal and must never be retried
	invalidSentinels = []error{
		ErrInvalidData,
		ErrParsingFailed,
		ErrAssetNotFound,
		ErrAttributeNotFound,
		ErrAgentUpdate,
		ErrReadOnly,
		ErrInvalidExecutionRequest,
		ErrFutureTimestamp,
		ErrStaleTimestamp,
		ErrConstraintViolation,
		ErrInvalidProtocolConfig,
		ErrConfigurationNotFound,
		ErrSubscriptionDenied,
		ErrWriteDenied,
	}
)

// explicitClass returns the classification err carries when some wrapper in
// its chain is a ClassifiedError.
func explicitClass(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return ErrorTransient, false
}

func isAny(err error, sentinels []error) bool {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func mentionsAny(err error, fragments []string) bool {
	msg := strings.ToLower(err.Error())
	for _, fragment := range fragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying. An explicit
// classification wins; otherwise known sentinels and then common message
// fragments decide.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorTransient
	}
	return isAny(err, transientSentinels) || mentionsAny(err, transientFragments)
}

// IsFatal reports whether err should stop processing entirely.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorFatal
	}
	return isAny(err, fatalSentinels) || mentionsAny(err, fatalFragments)
}

// IsInvalid reports whether err is a validation failure or gate rejection.
// There is no fragment scan here: only explicit classification or a known
// sentinel makes an error invalid.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorInvalid
	}
	return isAny(err, invalidSentinels)
}

// Classify buckets err into one of the three classes. Invalid is checked
// first so a rejection whose text happens to mention "timeout" still refuses
// retry. Unrecognized errors default to transient.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsInvalid(err):
		return ErrorInvalid
	case IsFatal(err):
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

// ClassifiedError carries an ErrorClass through an error chain along with
// the component and operation that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error returns Message when set, otherwise the wrapped error's text.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap adds standard context in the form "component.method: action failed".
// A nil err stays nil.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err with standard context and marks it retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps err with standard context and marks it as a rejection or
// validation failure that must not be retried.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps err with standard context and marks it unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// RetryConfig describes a retry policy in terms of additional attempts
// beyond the first.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error // empty means retry every transient error
}

// DefaultRetryConfig returns the policy most components start from.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry reports whether err deserves another attempt under this
// policy. Only transient errors retry, and when RetryableErrors is set the
// error must additionally match one of them.
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	if !IsTransient(err) {
		return false
	}
	if len(rc.RetryableErrors) == 0 {
		return true
	}
	return isAny(err, rc.RetryableErrors)
}

// ToRetryConfig converts this policy to the retry package's Config. The
// conversion adds 1 to MaxRetries, turning additional attempts into total
// attempts, and enables jitter.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}

// BackoffDelay returns the delay before the given retry attempt, growing by
// BackoffFactor each attempt and capping at MaxDelay.
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	delay := rc.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * rc.BackoffFactor)
		if delay > rc.MaxDelay {
			return rc.MaxDelay
		}
	}
	return delay
}
