package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// maxMultiplier caps runaway backoff factors before the float math can
// push a delay past what time.Duration represents.
const maxMultiplier = 1000

// Config controls the backoff schedule for [Do] and [DoWithResult].
// The zero value is usable: Do fills in one attempt, 100ms initial delay,
// a 5s cap, and a 2x multiplier.
type Config struct {
	MaxAttempts  int           // total attempts including the first (0 = run once)
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // ceiling the delay never exceeds
	Multiplier   float64       // growth factor between attempts
	AddJitter    bool          // pad each delay with up to 25% random slack
}

// DefaultConfig suits ordinary operations that should fail fast.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick suits startup races and KV revision conflicts: many cheap attempts
// with short delays.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Persistent suits resources the process cannot run without, such as the
// initial broker connection. It keeps trying for several minutes.
func Persistent() Config {
	return Config{
		MaxAttempts:  30,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Do runs fn until it succeeds, marks itself non-retryable, or the attempt
// budget runs out. Between attempts it sleeps on the exponential schedule
// described by cfg, aborting the sleep as soon as ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
		}
		if err := sleep(ctx, cfg.jittered(delay)); err != nil {
			return fmt.Errorf("retry cancelled while waiting for attempt %d: %w", attempt+1, err)
		}
		delay = cfg.next(delay)
	}
}

// DoWithResult is [Do] for operations that produce a value. On failure the
// zero value of T is returned alongside the error.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// normalize rejects nonsensical settings and fills unset fields with the
// DefaultConfig values.
func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 {
		return c, errors.New("retry: InitialDelay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return c, errors.New("retry: MaxDelay cannot be negative")
	}
	if c.Multiplier < 0 {
		return c, errors.New("retry: Multiplier cannot be negative")
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	switch {
	case c.Multiplier == 0:
		c.Multiplier = 2.0
	case c.Multiplier > maxMultiplier:
		c.Multiplier = maxMultiplier
	}

	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// jittered pads d with up to 25% of random slack so retriers that failed
// together do not wake together. math/rand/v2's global source is safe for
// concurrent use.
func (c Config) jittered(d time.Duration) time.Duration {
	span := d / 4
	if !c.AddJitter || span <= 0 {
		return d
	}
	return d + rand.N(span)
}

// next grows d by the multiplier. Anything past MaxDelay, including float
// overflow from large multipliers, clamps to MaxDelay.
func (c Config) next(d time.Duration) time.Duration {
	grown := float64(d) * c.Multiplier
	if grown > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(grown)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NonRetryableError marks an error that [Do] must surface immediately
// instead of burning further attempts on it.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so that [Do] stops on it. A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err or anything it wraps carries the
// non-retryable marker.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}
