package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test runs short; jitter off so timing is predictable.
func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("revision conflict")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return errors.New("bucket unavailable")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	marker := errors.New("unmarshal current")

	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(marker)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, marker)
	assert.Equal(t, 1, attempts, "non-retryable errors must not be retried")
}

func TestNonRetryableWrapping(t *testing.T) {
	assert.Nil(t, NonRetryable(nil))

	inner := errors.New("boom")
	wrapped := NonRetryable(inner)
	assert.True(t, IsNonRetryable(wrapped))
	assert.True(t, IsNonRetryable(fmt.Errorf("outer: %w", wrapped)))
	assert.False(t, IsNonRetryable(inner))
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastConfig(5)
	cfg.InitialDelay = 100 * time.Millisecond
	cfg.MaxDelay = time.Second

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("still down")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Less(t, attempts, 5)
}

func TestDoBackoffGrowsAndCaps(t *testing.T) {
	// 10ms, then 20ms, then 40ms of sleeping: 70ms minimum
	start := time.Now()
	_ = Do(context.Background(), fastConfig(4), func() error {
		return errors.New("nope")
	})
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)

	// With a 25ms cap and aggressive multiplier: 10ms + 25ms + 25ms
	capped := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Multiplier:   10.0,
	}
	start = time.Now()
	_ = Do(context.Background(), capped, func() error {
		return errors.New("nope")
	})
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestDoRejectsBadConfig(t *testing.T) {
	noop := func() error { return nil }

	err := Do(context.Background(), Config{InitialDelay: -time.Second}, noop)
	assert.ErrorContains(t, err, "InitialDelay")

	err = Do(context.Background(), Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Millisecond,
	}, noop)
	assert.ErrorContains(t, err, "MaxDelay must be >= InitialDelay")
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	rev, err := DoWithResult(context.Background(), fastConfig(3), func() (uint64, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("wrong revision")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(42), rev)
	assert.Equal(t, 2, attempts)
}

func TestPresets(t *testing.T) {
	def := DefaultConfig()
	assert.Equal(t, 3, def.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, def.InitialDelay)
	assert.Equal(t, 5*time.Second, def.MaxDelay)
	assert.True(t, def.AddJitter)

	quick := Quick()
	assert.Equal(t, 10, quick.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, quick.InitialDelay)
	assert.Equal(t, time.Second, quick.MaxDelay)

	persistent := Persistent()
	assert.Equal(t, 30, persistent.MaxAttempts)
	assert.Equal(t, 10*time.Second, persistent.MaxDelay)
}

func BenchmarkDoFirstTrySuccess(b *testing.B) {
	ctx := context.Background()
	cfg := Config{MaxAttempts: 1}

	for i := 0; i < b.N; i++ {
		_ = Do(ctx, cfg, func() error { return nil })
	}
}

func ExampleDo() {
	ctx := context.Background()

	var state []byte
	err := Do(ctx, Quick(), func() error {
		current, revision, err := readBucket(ctx)
		if err != nil {
			return NonRetryable(err)
		}
		state = current
		return writeBucket(ctx, state, revision)
	})

	_ = err
}

func readBucket(context.Context) ([]byte, uint64, error) { return nil, 0, nil }

func writeBucket(context.Context, []byte, uint64) error { return nil }
