package macro

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/pkg/timestamp"
	"github.com/c360/assetmesh/protocol"
)

// RUNNING is stamped slightly in the past; a macro whose actions all carry
// zero delay publishes COMPLETED within the same millisecond, and the
// ordering gate would reject whichever status update lands second.
const runningBackdateMs = 10

// task is one live macro execution. At most one task exists per invoking
// attribute; a superseded task's pending timer detects the stale generation
// and fires into a no-op.
type task struct {
	ref       asset.AttributeRef
	actions   []protocol.Action
	repeat    bool
	cancelled bool
	gen       uint64
	iteration int
	timer     *time.Timer
}

// Engine schedules macro executions. Invoking runs the first step
// synchronously; each action fires after its own delay via time.AfterFunc.
// Execution status updates and action writes are published northbound and
// re-enter the pipeline as ordinary sensor events.
type Engine struct {
	pub    protocol.Publisher
	logger *slog.Logger
	now    func() int64

	mu    sync.Mutex
	tasks map[asset.AttributeRef]*task
	gen   uint64
}

// NewEngine creates an idle engine publishing through pub.
func NewEngine(pub protocol.Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		pub:    pub,
		logger: logger,
		now:    timestamp.Now,
		tasks:  make(map[asset.AttributeRef]*task),
	}
}

// Invoke starts a macro execution for ref on a snapshot of actions. A live
// task for the same ref is superseded silently: its pending timer is stopped
// and no CANCELLED status is published. The new task publishes RUNNING
// backdated by a few milliseconds, then runs its first step synchronously.
func (e *Engine) Invoke(ctx context.Context, ref asset.AttributeRef, actions []protocol.Action, repeat bool) {
	if len(actions) == 0 {
		e.logger.Warn("macro invoked without actions", "ref", ref.String())
		return
	}

	e.mu.Lock()
	if old := e.tasks[ref]; old != nil {
		old.cancelled = true
		if old.timer != nil {
			old.timer.Stop()
		}
		e.logger.Debug("macro execution superseded", "ref", ref.String())
	}
	e.gen++
	t := &task{ref: ref, actions: actions, repeat: repeat, gen: e.gen, iteration: -1}
	e.tasks[ref] = t
	gen := t.gen
	e.mu.Unlock()

	e.publishStatus(ctx, ref, asset.ExecuteRunning, e.now()-runningBackdateMs)
	e.step(ctx, ref, gen)
}

// Cancel stops the live task for ref, publishes CANCELLED exactly once, and
// removes the task. Without a live task it is a no-op.
func (e *Engine) Cancel(ctx context.Context, ref asset.AttributeRef) {
	e.mu.Lock()
	t := e.tasks[ref]
	if t == nil {
		e.mu.Unlock()
		return
	}
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(e.tasks, ref)
	e.mu.Unlock()

	e.publishStatus(ctx, ref, asset.ExecuteCancelled, e.now())
	e.logger.Debug("macro execution cancelled", "ref", ref.String())
}

// Active reports whether a live task exists for ref.
func (e *Engine) Active(ref asset.AttributeRef) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[ref] != nil
}

// ActiveCount returns the number of live tasks.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// Close stops every pending timer and drops all tasks without publishing
// status updates. Used on service shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ref, t := range e.tasks {
		t.cancelled = true
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(e.tasks, ref)
	}
}

// step runs one iteration of the task identified by (ref, gen). A stale
// generation or cancelled task is a no-op, so a superseded or cancelled
// timer firing late does no work. The first iteration (-1) fires nothing
// and schedules the first action after that action's own delay.
func (e *Engine) step(ctx context.Context, ref asset.AttributeRef, gen uint64) {
	e.mu.Lock()
	t := e.tasks[ref]
	if t == nil || t.gen != gen || t.cancelled {
		e.mu.Unlock()
		return
	}
	var fire *protocol.Action
	if t.iteration >= 0 {
		a := t.actions[t.iteration]
		fire = &a
	}
	e.mu.Unlock()

	// Publish before scheduling the next step so action writes reach the
	// pipeline in sequence order even with zero delays.
	if fire != nil {
		e.publishWrite(ctx, *fire)
	}

	e.mu.Lock()
	t = e.tasks[ref]
	if t == nil || t.gen != gen || t.cancelled {
		e.mu.Unlock()
		return
	}

	isLast := t.iteration == len(t.actions)-1
	if isLast && t.repeat {
		t.iteration = 0
	} else {
		t.iteration++
	}

	done := isLast && !t.repeat
	if done {
		delete(e.tasks, ref)
	} else {
		delay := t.actions[t.iteration].DelayMs
		if delay < 0 {
			delay = 0
		}
		t.timer = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			e.step(context.Background(), ref, gen)
		})
	}
	e.mu.Unlock()

	if done {
		e.publishStatus(ctx, ref, asset.ExecuteCompleted, e.now())
		e.logger.Debug("macro execution completed", "ref", ref.String())
	}
}

// publishWrite emits one action's attribute write northbound. Publish
// failures are logged and dropped; the pipeline is fire and forget.
func (e *Engine) publishWrite(ctx context.Context, a protocol.Action) {
	ev := asset.NewAttributeEvent(a.Target, a.Value)
	if err := e.pub.PublishNorthbound(ctx, ProtocolName, ev); err != nil {
		e.logger.Warn("macro action publish failed", "target", a.Target.String(), "error", err)
	}
}

func (e *Engine) publishStatus(ctx context.Context, ref asset.AttributeRef, status asset.ExecuteStatus, ts int64) {
	ev := asset.NewAttributeEventAt(ref, status.Value(), ts)
	if err := e.pub.PublishNorthbound(ctx, ProtocolName, ev); err != nil {
		e.logger.Warn("execution status publish failed",
			"ref", ref.String(), "status", status.String(), "error", err)
	}
}
