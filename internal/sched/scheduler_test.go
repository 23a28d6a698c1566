package sched

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-lang/weft/internal/poller"
	"github.com/weft-lang/weft/internal/resource"
	"github.com/weft-lang/weft/internal/task"
)

func newTestScheduler(t *testing.T, opts Options) *Scheduler {
	t.Helper()

	s, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	t.Cleanup(s.Shutdown)
	return s
}

func TestScheduler_runsTasksExactlyOnce(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 2})

	const n = 100
	var runs atomic.Int32

	tasks := make([]*task.Task, 0, n)
	for i := 0; i < n; i++ {
		spawned, err := s.Spawn(Spec{
			Description: fmt.Sprintf("worker-%d", i),
			Entry: func(ex *task.Execution, arg any) error {
				runs.Add(1)
				return ex.Yield()
			},
		})
		require.NoError(t, err)
		tasks = append(tasks, spawned)
	}

	for _, spawned := range tasks {
		assert.NoError(t, spawned.Wait())
	}
	// every task ran its entry function exactly once, despite stealing,
	// spilling and requeues
	assert.Equal(t, int32(n), runs.Load())

	stats := s.Stats()
	assert.Equal(t, uint64(n), stats.TasksCreated)
	assert.Equal(t, uint64(n), stats.TasksCompleted)
}

func TestScheduler_taskError(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1})

	boom := errors.New("boom")
	spawned, err := s.Spawn(Spec{
		Entry: func(ex *task.Execution, arg any) error { return boom },
	})
	require.NoError(t, err)

	assert.ErrorIs(t, spawned.Wait(), boom)
	assert.ErrorIs(t, s.Wait(spawned.ID), boom)
}

func TestScheduler_createWithoutEntry(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1})

	_, err := s.Create(Spec{})
	assert.Error(t, err)
}

func TestScheduler_enqueueOnce(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1})

	created, err := s.Create(Spec{
		Entry: func(ex *task.Execution, arg any) error { return nil },
	})
	require.NoError(t, err)

	_, err = s.Enqueue(created.ID)
	require.NoError(t, err)
	require.NoError(t, created.Wait())

	// a finished task cannot be enqueued again
	_, err = s.Enqueue(created.ID)
	assert.ErrorIs(t, err, ErrNotEnqueuable)
}

func TestScheduler_cancelCreated(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1})

	created, err := s.Create(Spec{
		Entry: func(ex *task.Execution, arg any) error {
			t.Error("entry function must not run")
			return nil
		},
	})
	require.NoError(t, err)

	cancelled, err := s.Cancel(created.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, cancelled.Wait(), task.ErrCanceled)
	assert.False(t, cancelled.HasStarted())
}

func TestScheduler_cancelRunning(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1})

	running := make(chan struct{})
	spawned, err := s.Spawn(Spec{
		Entry: func(ex *task.Execution, arg any) error {
			close(running)
			for {
				if err := ex.Checkpoint(); err != nil {
					return err
				}
			}
		},
	})
	require.NoError(t, err)

	<-running
	_, err = s.Cancel(spawned.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, spawned.Wait(), task.ErrCanceled)
}

func TestScheduler_getAndList(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1})

	created, err := s.Create(Spec{
		Entry: func(ex *task.Execution, arg any) error { return nil },
	})
	require.NoError(t, err)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Same(t, created, got)

	_, err = s.Get(resource.NewID(resource.Task))
	assert.ErrorIs(t, err, resource.ErrNotFound)

	listed := s.List(ListOptions{Status: []task.Status{task.Created}})
	require.Len(t, listed, 1)
	assert.Same(t, created, listed[0])

	assert.Empty(t, s.List(ListOptions{Status: []task.Status{task.Running}}))
}

func TestScheduler_subscribe(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := s.Subscribe(ctx)

	spawned, err := s.Spawn(Spec{
		Entry: func(ex *task.Execution, arg any) error { return nil },
	})
	require.NoError(t, err)
	require.NoError(t, spawned.Wait())

	// the first event is the task's creation; completion follows as updates
	select {
	case ev := <-sub:
		assert.Equal(t, resource.CreatedEvent, ev.Type)
		assert.Same(t, spawned, ev.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestScheduler_machinePoolBounded(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 2, MaxMachines: 3})

	const n = 50
	tasks := make([]*task.Task, 0, n)
	for i := 0; i < n; i++ {
		spawned, err := s.Spawn(Spec{
			Entry: func(ex *task.Execution, arg any) error {
				return ex.Yield()
			},
		})
		require.NoError(t, err)
		tasks = append(tasks, spawned)
	}
	for _, spawned := range tasks {
		require.NoError(t, spawned.Wait())
	}

	assert.LessOrEqual(t, len(s.Stats().Machines), 3)
}

// TestScheduler_stealsFromLoadedProcessor starts a single machine whose own
// queue is empty while another processor's queue holds a backlog, forcing the
// machine to take the stealing path to make progress.
func TestScheduler_stealsFromLoadedProcessor(t *testing.T) {
	s, err := New(Options{Processors: 2})
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	// hold the first processor back so the machine started below attaches to
	// the second, whose queue stays empty
	loaded := <-s.procFree

	const n = 8
	tasks := make([]*task.Task, 0, n)
	for i := 0; i < n; i++ {
		created, err := s.Create(Spec{
			Entry: func(ex *task.Execution, arg any) error { return nil },
		})
		require.NoError(t, err)
		require.True(t, created.Enqueued())
		require.True(t, loaded.queue.Push(created.Handle()))
		tasks = append(tasks, created)
	}

	m, err := s.pool.create(s)
	require.NoError(t, err)
	m.start()

	for _, created := range tasks {
		require.NoError(t, created.Wait())
	}

	assert.Greater(t, m.Stats().Steals, uint64(0))
	assert.Greater(t, loaded.tasksStolenFrom.Load(), uint64(0))
}

// TestScheduler_parkedMachineDoesNotSpin pins the sole processor with a hog
// while a second task waits on the global queue. The machine woken for that
// task cannot acquire a processor; it must stay parked instead of waking
// itself straight back up for work it cannot run.
func TestScheduler_parkedMachineDoesNotSpin(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 1, MaxMachines: 2})

	released := make(chan struct{})
	hog, err := s.Spawn(Spec{
		Description: "hog",
		Entry: func(ex *task.Execution, arg any) error {
			for {
				select {
				case <-released:
					return nil
				default:
					if err := ex.Checkpoint(); err != nil {
						return err
					}
				}
			}
		},
	})
	require.NoError(t, err)

	quick, err := s.Spawn(Spec{
		Description: "quick",
		Entry: func(ex *task.Execution, arg any) error { return nil },
	})
	require.NoError(t, err)

	// keep the contention window open long enough that a machine cycling
	// through park would rack up an obvious count
	time.Sleep(100 * time.Millisecond)
	close(released)
	require.NoError(t, hog.Wait())
	require.NoError(t, quick.Wait())

	var parks uint64
	for _, m := range s.Stats().Machines {
		parks += m.Parks
	}
	assert.Less(t, parks, uint64(1000))
}

func TestScheduler_blockAndWake(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 2})

	gate := newGate()
	spawned, err := s.Spawn(Spec{
		Description: "parker",
		Entry: func(ex *task.Execution, arg any) error {
			gate.set(ex.Waker())
			for !gate.opened.Load() {
				if err := ex.Park(); err != nil {
					return err
				}
			}
			return nil
		},
	})
	require.NoError(t, err)

	// wait for the task to hand over its waker, then open the gate and wake
	waker := gate.waker(t)
	gate.opened.Store(true)
	waker()

	assert.NoError(t, spawned.Wait())
}

// gate coordinates a parked task with the test goroutine.
type gate struct {
	wakerc chan func()
	opened atomic.Bool
}

func newGate() *gate {
	return &gate{wakerc: make(chan func(), 1)}
}

func (g *gate) set(w func()) {
	select {
	case g.wakerc <- w:
	default:
	}
}

func (g *gate) waker(t *testing.T) func() {
	t.Helper()

	select {
	case w := <-g.wakerc:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("task never parked")
		return nil
	}
}

func TestScheduler_awaitIO(t *testing.T) {
	s := newTestScheduler(t, Options{Processors: 2})

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	spawned, err := s.Spawn(Spec{
		Description: "io-reader",
		Entry: func(ex *task.Execution, arg any) error {
			if err := s.AwaitIO(ex, int(r.Fd()), poller.Interest{Readable: true}); err != nil {
				return err
			}
			buf := make([]byte, 8)
			n, err := r.Read(buf)
			if err != nil {
				return err
			}
			if string(buf[:n]) != "ping" {
				return fmt.Errorf("read %q, want %q", buf[:n], "ping")
			}
			return nil
		},
	})
	require.NoError(t, err)

	// give the task time to park before readiness arrives
	time.Sleep(20 * time.Millisecond)
	_, err = w.WriteString("ping")
	require.NoError(t, err)

	assert.NoError(t, spawned.Wait())
}

func TestScheduler_preemptsCPUBoundTask(t *testing.T) {
	s := newTestScheduler(t, Options{
		Processors:      1,
		Quantum:         time.Millisecond,
		MonitorInterval: time.Millisecond,
	})

	// a hog that only reschedules at checkpoints, and a quick task behind it
	released := make(chan struct{})
	hog, err := s.Spawn(Spec{
		Description: "hog",
		Entry: func(ex *task.Execution, arg any) error {
			for {
				select {
				case <-released:
					return nil
				default:
					if err := ex.Checkpoint(); err != nil {
						return err
					}
				}
			}
		},
	})
	require.NoError(t, err)

	quick, err := s.Spawn(Spec{
		Description: "quick",
		Entry: func(ex *task.Execution, arg any) error { return nil },
	})
	require.NoError(t, err)

	// the quick task can only finish if the hog is preempted off the sole
	// processor
	require.NoError(t, quick.Wait())

	close(released)
	require.NoError(t, hog.Wait())
	assert.Greater(t, s.Stats().Preemptions, uint64(0))
}
