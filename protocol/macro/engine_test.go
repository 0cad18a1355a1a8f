package macro

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/protocol"
)

// recorder collects northbound publishes in order.
type recorder struct {
	mu     sync.Mutex
	events []asset.AttributeEvent
}

func (r *recorder) PublishNorthbound(_ context.Context, _ string, event asset.AttributeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []asset.AttributeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]asset.AttributeEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) statuses() []asset.ExecuteStatus {
	var out []asset.ExecuteStatus
	for _, ev := range r.snapshot() {
		if status, ok := asset.ExecuteStatusFromValue(ev.Value); ok {
			out = append(out, status)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func isStatus(ev asset.AttributeEvent, want asset.ExecuteStatus) bool {
	status, ok := asset.ExecuteStatusFromValue(ev.Value)
	return ok && status == want
}

func TestEngineFullCycle(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())
	ref := asset.NewRef("room1", "scene")
	actions := []protocol.Action{
		{Target: asset.NewRef("light1", "power"), Value: asset.BoolValue(true), DelayMs: 0},
		{Target: asset.NewRef("light2", "power"), Value: asset.BoolValue(true), DelayMs: 40},
	}

	e.Invoke(context.Background(), ref, actions, false)

	require.Eventually(t, func() bool { return rec.count() >= 4 },
		2*time.Second, 5*time.Millisecond)

	// No further events once completed.
	time.Sleep(80 * time.Millisecond)
	events := rec.snapshot()
	require.Len(t, events, 4)

	assert.Equal(t, ref, events[0].Ref())
	assert.True(t, isStatus(events[0], asset.ExecuteRunning))

	assert.Equal(t, actions[0].Target, events[1].Ref())
	assert.True(t, events[1].Value.Equal(asset.BoolValue(true)))
	assert.Equal(t, actions[1].Target, events[2].Ref())

	assert.Equal(t, ref, events[3].Ref())
	assert.True(t, isStatus(events[3], asset.ExecuteCompleted))

	// The second action's own delay separates the two writes.
	assert.GreaterOrEqual(t, events[2].Timestamp-events[1].Timestamp, int64(35))

	// RUNNING is backdated so it cannot collide with COMPLETED.
	assert.Less(t, events[0].Timestamp, events[3].Timestamp)

	assert.False(t, e.Active(ref))
}

func TestEngineNegativeDelayClamped(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())
	ref := asset.NewRef("room1", "scene")
	actions := []protocol.Action{
		{Target: asset.NewRef("light1", "power"), Value: asset.BoolValue(true), DelayMs: -50},
	}

	e.Invoke(context.Background(), ref, actions, false)

	require.Eventually(t, func() bool { return rec.count() >= 3 },
		2*time.Second, 5*time.Millisecond)

	events := rec.snapshot()
	require.Len(t, events, 3)
	assert.True(t, isStatus(events[0], asset.ExecuteRunning))
	assert.Equal(t, actions[0].Target, events[1].Ref())
	assert.True(t, isStatus(events[2], asset.ExecuteCompleted))
	assert.False(t, e.Active(ref))
}

func TestEngineRepeat(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())
	ref := asset.NewRef("room1", "scene")
	a1 := asset.NewRef("light1", "power")
	a2 := asset.NewRef("light2", "power")
	actions := []protocol.Action{
		{Target: a1, Value: asset.BoolValue(true), DelayMs: 0},
		{Target: a2, Value: asset.BoolValue(false), DelayMs: 20},
	}

	e.Invoke(context.Background(), ref, actions, true)

	// RUNNING plus at least two full cycles of writes.
	require.Eventually(t, func() bool { return rec.count() >= 5 },
		2*time.Second, 5*time.Millisecond)

	events := rec.snapshot()
	assert.True(t, isStatus(events[0], asset.ExecuteRunning))
	assert.Equal(t, a1, events[1].Ref())
	assert.Equal(t, a2, events[2].Ref())
	assert.Equal(t, a1, events[3].Ref())
	assert.Equal(t, a2, events[4].Ref())

	assert.NotContains(t, rec.statuses(), asset.ExecuteCompleted)
	assert.True(t, e.Active(ref))

	e.Cancel(context.Background(), ref)

	require.Eventually(t, func() bool {
		statuses := rec.statuses()
		for _, s := range statuses {
			if s == asset.ExecuteCancelled {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, e.Active(ref))

	// Nothing fires after cancellation.
	settled := rec.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, rec.count())

	cancelled := 0
	for _, s := range rec.statuses() {
		if s == asset.ExecuteCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestEngineCancelStopsPendingWrite(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())
	ref := asset.NewRef("room1", "scene")
	a2 := asset.NewRef("light2", "power")
	actions := []protocol.Action{
		{Target: asset.NewRef("light1", "power"), Value: asset.BoolValue(true), DelayMs: 0},
		{Target: a2, Value: asset.BoolValue(true), DelayMs: 150},
	}

	e.Invoke(context.Background(), ref, actions, false)

	// Wait for RUNNING and the first write; the second is pending.
	require.Eventually(t, func() bool { return rec.count() >= 2 },
		2*time.Second, 5*time.Millisecond)

	e.Cancel(context.Background(), ref)
	// Second cancel is a no-op.
	e.Cancel(context.Background(), ref)

	time.Sleep(250 * time.Millisecond)

	events := rec.snapshot()
	require.Len(t, events, 3)
	assert.True(t, isStatus(events[2], asset.ExecuteCancelled))
	for _, ev := range events {
		assert.NotEqual(t, a2, ev.Ref(), "pending write fired after cancel")
	}
	assert.NotContains(t, rec.statuses(), asset.ExecuteCompleted)
	assert.False(t, e.Active(ref))
}

func TestEngineSupersede(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())
	ref := asset.NewRef("room1", "scene")
	oldPending := asset.NewRef("old", "pending")
	first := []protocol.Action{
		{Target: asset.NewRef("old", "fired"), Value: asset.BoolValue(true), DelayMs: 0},
		{Target: oldPending, Value: asset.BoolValue(true), DelayMs: 150},
	}
	second := []protocol.Action{
		{Target: asset.NewRef("new", "one"), Value: asset.BoolValue(true), DelayMs: 0},
		{Target: asset.NewRef("new", "two"), Value: asset.BoolValue(true), DelayMs: 0},
	}

	e.Invoke(context.Background(), ref, first, false)
	require.Eventually(t, func() bool { return rec.count() >= 2 },
		2*time.Second, 5*time.Millisecond)

	e.Invoke(context.Background(), ref, second, false)

	require.Eventually(t, func() bool {
		for _, s := range rec.statuses() {
			if s == asset.ExecuteCompleted {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(250 * time.Millisecond)

	events := rec.snapshot()
	completed := 0
	for _, ev := range events {
		assert.NotEqual(t, oldPending, ev.Ref(), "superseded task's pending write fired")
		if isStatus(ev, asset.ExecuteCompleted) {
			completed++
		}
	}
	// Superseding is silent: no CANCELLED, one COMPLETED from the new task.
	assert.NotContains(t, rec.statuses(), asset.ExecuteCancelled)
	assert.Equal(t, 1, completed)
	assert.False(t, e.Active(ref))
}

func TestEngineInvokeWithoutActions(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())
	ref := asset.NewRef("room1", "scene")

	e.Invoke(context.Background(), ref, nil, false)

	assert.Zero(t, rec.count())
	assert.False(t, e.Active(ref))
}

func TestEngineCancelWithoutTask(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())

	e.Cancel(context.Background(), asset.NewRef("room1", "scene"))

	assert.Zero(t, rec.count())
}

func TestEngineClose(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec, testLogger())
	ref := asset.NewRef("room1", "scene")
	actions := []protocol.Action{
		{Target: asset.NewRef("light1", "power"), Value: asset.BoolValue(true), DelayMs: 20},
	}

	e.Invoke(context.Background(), ref, actions, true)
	require.Eventually(t, func() bool { return rec.count() >= 2 },
		2*time.Second, 5*time.Millisecond)

	e.Close()
	assert.Zero(t, e.ActiveCount())

	// Close publishes nothing and stops pending timers.
	settled := rec.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, rec.count())
	assert.NotContains(t, rec.statuses(), asset.ExecuteCancelled)
}
