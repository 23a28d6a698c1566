package task

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-lang/weft/internal/resource"
)

// ErrCanceled is the error a canceled task finishes with.
var ErrCanceled = errors.New("task canceled")

// EntryFunc is a task's entry point. It is invoked at most once per task,
// with the execution handle and the opaque argument the task was created
// with.
type EntryFunc func(ex *Execution, arg any) error

// ExecContext is the saved execution context of a suspended task.
//
// PC is captured at each cooperative save point. SP and FP can only be
// recovered with a target-specific assist (signal-frame inspection); without
// one they remain zero.
type ExecContext struct {
	SP uintptr
	FP uintptr
	PC uintptr
}

// Task is a unit of scheduled work: an entry function, a stack (the
// goroutine the entry function runs on), and a state machine.
type Task struct {
	ID resource.ID

	Created time.Time
	Updated time.Time

	// Nil until task finishes with an error
	Err error

	handle Handle

	entry       EntryFunc
	arg         any
	description string

	state atomic.Int32

	// preempt is set by the preemption monitor once the task exceeds its
	// quantum, and polled at the task's safe points.
	preempt atomic.Bool

	// wakePending records a wake that arrived while the task was still
	// running and about to park; the parking path consumes it.
	wakePending atomic.Bool

	// runningSince is the wall-clock nanosecond timestamp at which the
	// current run step began; zero while not running.
	runningSince atomic.Int64

	canceled atomic.Bool

	// unqueued marks a task that finished without ever entering a queue, so
	// no popped handle will ever surrender its arena slot.
	unqueued atomic.Bool

	// link chains the task into the global queue. Guarded by the global
	// queue's mutex; non-zero only while the task is a member of the queue.
	link Handle

	// execCtx is written by the task's own goroutine at suspension points,
	// before the state transition that makes the task visible to other
	// machines.
	execCtx ExecContext

	started atomic.Bool
	resume  chan struct{}
	yield   chan Outcome

	// closed exactly once, when the task reaches Completed
	finished chan struct{}
	finish   sync.Once

	// wake is invoked when a blocked task must be made runnable again; wired
	// to the scheduler's wake path at creation.
	wake func(*Task)

	// lock guarding timestamps
	mu sync.Mutex

	// timestamps records the time at which the task transitioned into a
	// status and out of a status.
	timestamps map[Status]statusTimestamps

	// call this whenever state is updated
	afterUpdate func(*Task)
}

// CreateOptions assembles a new task.
type CreateOptions struct {
	Entry       EntryFunc
	Arg         any
	Description string

	// AfterUpdate is called on every state transition.
	AfterUpdate func(*Task)
	// Wake is called when a blocked task must be re-enqueued.
	Wake func(*Task)
}

func New(opts CreateOptions) *Task {
	now := time.Now()
	return &Task{
		ID:          resource.NewID(resource.Task),
		Created:     now,
		Updated:     now,
		entry:       opts.Entry,
		arg:         opts.Arg,
		description: opts.Description,
		resume:      make(chan struct{}, 1),
		yield:       make(chan Outcome),
		finished:    make(chan struct{}),
		wake:        opts.Wake,
		afterUpdate: opts.AfterUpdate,
		timestamps: map[Status]statusTimestamps{
			Created: {started: now},
		},
	}
}

func (t *Task) String() string {
	if t.description != "" {
		return t.description
	}
	return t.ID.String()
}

// Handle returns the task's arena handle.
func (t *Task) Handle() Handle {
	return t.handle
}

func (t *Task) State() Status {
	return Status(t.state.Load())
}

func (t *Task) IsActive() bool {
	switch t.State() {
	case Runnable, Running, Blocked:
		return true
	default:
		return false
	}
}

func (t *Task) IsFinished() bool {
	return t.State() == Completed
}

// HasStarted reports whether the entry function has ever begun executing.
func (t *Task) HasStarted() bool {
	return t.started.Load()
}

// Unqueued reports whether the task finished without ever entering a queue.
// The scheduler owns the arena slot of such a task; for any other task the
// machine that pops its queued handle does.
func (t *Task) Unqueued() bool {
	return t.unqueued.Load()
}

// Elapsed returns the length of time the task has been in the given status.
func (t *Task) Elapsed(s Status) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.timestamps[s]
	if !ok {
		return 0
	}
	return st.Elapsed()
}

// RunningFor returns how long the current run step has been executing, or
// zero if the task is not mid-step.
func (t *Task) RunningFor() time.Duration {
	since := t.runningSince.Load()
	if since == 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - since)
}

// MarkPreempt flags the task for rescheduling at its next safe point.
// Returns false if the task was already flagged.
func (t *Task) MarkPreempt() bool {
	return t.preempt.CompareAndSwap(false, true)
}

// PreemptRequested reports whether the preempt flag is set.
func (t *Task) PreemptRequested() bool {
	return t.preempt.Load()
}

// SavedContext returns the execution context captured at the task's last
// suspension point.
func (t *Task) SavedContext() ExecContext {
	return t.execCtx
}

// Link returns the task's global queue link. Only the global queue, under
// its own mutex, may call this.
func (t *Task) Link() Handle {
	return t.link
}

// SetLink sets the task's global queue link. Only the global queue, under
// its own mutex, may call this.
func (t *Task) SetLink(h Handle) {
	t.link = h
}

// Wait for the task to complete successfully. If the task completes
// unsuccessfully then the returned error is non-nil.
func (t *Task) Wait() error {
	<-t.finished
	return t.Err
}

func (t *Task) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", t.ID.String()),
		slog.String("state", t.State().String()),
		slog.String("desc", t.description),
	)
}

// Cancel the task. A task that has not started skips straight to completed;
// a started task is flagged and observes cancellation at its next safe
// point.
func (t *Task) Cancel() error {
	t.canceled.Store(true)

	// Not yet started: complete immediately without running the entry
	// function. A started task keeps its goroutine even while runnable; its
	// queue entry drives it to completion at the next run step instead.
	if !t.started.Load() {
		if t.compareAndSwapState(Created, Completed) {
			t.unqueued.Store(true)
			t.Err = ErrCanceled
			t.finish.Do(func() { close(t.finished) })
			return nil
		}
		if t.compareAndSwapState(Runnable, Completed) {
			t.Err = ErrCanceled
			t.finish.Do(func() { close(t.finished) })
			return nil
		}
	}

	switch t.State() {
	case Completed:
		return errors.New("task has already finished")
	default:
		// Running or blocked: force a reschedule point so the safe-point
		// check observes the cancellation. Wake goes through the scheduler
		// so a blocked task is re-enqueued, not just marked runnable.
		t.preempt.Store(true)
		t.Wake()
		return nil
	}
}

// RequestWake transitions a blocked task back to runnable. Returns true if
// the caller now owns the transition and must enqueue the task. A wake that
// races with the task parking is latched and consumed by the parking path,
// so no wake is lost and no task is enqueued twice for one wake.
func (t *Task) RequestWake() bool {
	if t.compareAndSwapState(Blocked, Runnable) {
		return true
	}
	if t.State() != Running {
		return false
	}
	t.wakePending.Store(true)
	// Re-check: the task may have parked between our first attempt and the
	// latch store, in which case the latch would go unseen.
	if t.compareAndSwapState(Blocked, Runnable) {
		t.wakePending.Store(false)
		return true
	}
	return false
}

// Wake invokes the scheduler's wake path for this task.
func (t *Task) Wake() {
	if t.wake != nil {
		t.wake(t)
	}
}

// Enqueued transitions the task from created to runnable. Returns false if
// the task is not in the created state.
func (t *Task) Enqueued() bool {
	return t.compareAndSwapState(Created, Runnable)
}

// compareAndSwapState atomically transitions the task between statuses,
// recording timestamps and firing the update callback on success.
func (t *Task) compareAndSwapState(from, to Status) bool {
	if !t.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	now := time.Now()
	t.mu.Lock()
	t.Updated = now
	ts := t.timestamps[from]
	ts.ended = now
	t.timestamps[from] = ts
	t.timestamps[to] = statusTimestamps{started: now}
	t.mu.Unlock()

	if t.afterUpdate != nil {
		t.afterUpdate(t)
	}
	return true
}
