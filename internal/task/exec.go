package task

import (
	"fmt"
	"runtime"
	"time"
)

// Outcome is how a single run step of a task ended.
type Outcome uint8

const (
	// OutcomeCompleted: the entry function returned; the task is terminal.
	OutcomeCompleted Outcome = iota
	// OutcomeYielded: the task voluntarily gave up the machine; requeue it.
	OutcomeYielded
	// OutcomePreempted: the task observed its preempt flag; requeue it.
	OutcomePreempted
	// OutcomeBlocked: the task parked awaiting a wake; do not requeue, the
	// wake path will.
	OutcomeBlocked
)

func (o Outcome) String() string {
	return [...]string{"completed", "yielded", "preempted", "blocked"}[o]
}

// RunStep executes the task until it completes, yields, is preempted or
// blocks. The caller (a machine) must have transitioned the task to Running
// first, and is the sole executor of the task for the duration of the step.
//
// The first step starts the task's goroutine, which serves as its stack; the
// entry function is invoked exactly once over the task's lifetime.
func (t *Task) RunStep() Outcome {
	t.runningSince.Store(time.Now().UnixNano())
	t.preempt.Store(false)

	if t.started.CompareAndSwap(false, true) {
		go t.body()
	} else {
		t.resume <- struct{}{}
	}

	out := <-t.yield
	t.runningSince.Store(0)
	return out
}

// BeginRun transitions the task from runnable to running on behalf of a
// machine. Returns false if the task is no longer runnable (e.g. canceled
// out of a queue), in which case the machine must skip it.
func (t *Task) BeginRun() bool {
	return t.compareAndSwapState(Runnable, Running)
}

// body runs on the task's own goroutine. A panic in the entry function is
// contained here: the task completes with an error and shared scheduler
// state is untouched.
func (t *Task) body() {
	defer func() {
		if p := recover(); p != nil {
			t.Err = fmt.Errorf("task panicked: %v", p)
		}
		t.complete()
	}()

	ex := &Execution{task: t}
	if err := t.entry(ex, t.arg); err != nil {
		t.Err = err
	}
}

func (t *Task) complete() {
	t.compareAndSwapState(Running, Completed)
	t.finish.Do(func() { close(t.finished) })
	t.yield <- OutcomeCompleted
}

// saveContext captures the resumption context before the task becomes
// visible to other machines as runnable or blocked.
func (t *Task) saveContext() {
	if pc, _, _, ok := runtime.Caller(3); ok {
		t.execCtx.PC = pc
	}
}

// yieldWith suspends the task goroutine, handing the outcome to the machine
// driving the current step, and parks until resumed.
func (t *Task) yieldWith(out Outcome) {
	t.saveContext()
	t.compareAndSwapState(Running, Runnable)
	t.yield <- out
	<-t.resume
}

// park suspends the task goroutine in the blocked state. A wake that raced
// with parking is consumed here: the task is handed back to the machine as a
// yield (or is already enqueued by the waker) instead of sleeping through
// the wake.
func (t *Task) park() {
	t.saveContext()
	t.compareAndSwapState(Running, Blocked)

	out := OutcomeBlocked
	if t.wakePending.Swap(false) {
		if t.compareAndSwapState(Blocked, Runnable) {
			// reclaim the wake ourselves; the machine requeues us
			out = OutcomeYielded
		}
		// otherwise a waker won the transition and has enqueued the task
	}

	t.yield <- out
	<-t.resume
}

// Execution is the handle through which a task's entry function cooperates
// with the scheduler: yielding, checking for preemption and cancellation,
// and parking while blocked.
type Execution struct {
	task *Task
}

// Task returns the task being executed.
func (ex *Execution) Task() *Task {
	return ex.task
}

// Yield voluntarily gives up the machine; the task is requeued and resumes
// later. Returns ErrCanceled if the task was canceled while suspended.
func (ex *Execution) Yield() error {
	ex.task.yieldWith(OutcomeYielded)
	if ex.task.canceled.Load() {
		return ErrCanceled
	}
	return nil
}

// Checkpoint is the cooperative safe point: it suspends the task only if
// preemption or cancellation has been requested. CPU-bound entry functions
// are expected to call it inside their loops.
func (ex *Execution) Checkpoint() error {
	if ex.task.canceled.Load() {
		return ErrCanceled
	}
	if ex.task.preempt.Load() {
		ex.task.yieldWith(OutcomePreempted)
		if ex.task.canceled.Load() {
			return ErrCanceled
		}
	}
	return nil
}

// Park blocks the task until an explicit wake (poller readiness or future
// resolution). Spurious wakes are possible; callers must re-check their
// condition. Returns ErrCanceled if the task was canceled.
func (ex *Execution) Park() error {
	ex.task.park()
	if ex.task.canceled.Load() {
		return ErrCanceled
	}
	return nil
}

// Waker returns a function that, when invoked, marks the task runnable again
// via the scheduler's wake path. Safe to call from any goroutine, any number
// of times; each blocked period consumes at most one wake.
func (ex *Execution) Waker() func() {
	t := ex.task
	return func() { t.Wake() }
}
