// Package sched implements the M:N runtime scheduler: tasks are multiplexed
// over a bounded pool of OS-thread-locked machines, each driving a processor
// with a private work-stealing run queue, with a shared global queue as
// overflow and starvation valve.
package sched

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-lang/weft/internal/logging"
	"github.com/weft-lang/weft/internal/poller"
	"github.com/weft-lang/weft/internal/preempt"
	"github.com/weft-lang/weft/internal/pubsub"
	"github.com/weft-lang/weft/internal/queue"
	"github.com/weft-lang/weft/internal/resource"
	"github.com/weft-lang/weft/internal/task"
)

const (
	defaultArenaCapacity       = 1 << 10
	defaultGlobalCheckInterval = 61
	defaultIdleParkThreshold   = 100
	defaultIdleSleep           = 50 * time.Microsecond
	defaultPollInterval        = 50 * time.Millisecond
)

// ErrNotEnqueuable is returned when enqueuing a task that has already been
// enqueued, is running, or has finished.
var ErrNotEnqueuable = errors.New("task is not in a created state")

// Scheduler is the top-level runtime service. It owns the task table, the
// arena, both queue tiers, the machine pool, the preemption monitor and the
// I/O poller.
type Scheduler struct {
	// Broker streams task lifecycle events to subscribers.
	Broker *pubsub.Broker[*task.Task]

	logger logging.Interface
	table  *resource.Table[*task.Task]

	arena      *task.Arena
	global     *queue.Global
	processors []*Processor
	procFree   chan *Processor
	pool       *pool
	monitor    *preempt.Monitor
	poller     *poller.Poller

	globalCheckInterval uint64
	idleParkThreshold   int
	idleSleep           time.Duration
	pollInterval        time.Duration

	tasksCreated   atomic.Uint64
	tasksCompleted atomic.Uint64
	preemptions    atomic.Uint64

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	ioDone   chan struct{}
}

type Options struct {
	// Processors is the number of scheduling contexts, i.e. the maximum
	// number of tasks running simultaneously. Defaults to runtime.NumCPU().
	Processors int
	// MaxMachines caps the worker thread pool. Defaults to 2*Processors,
	// leaving headroom for machines whose task is blocked in a syscall.
	MaxMachines int
	// LocalQueueCapacity is the per-processor run queue size.
	LocalQueueCapacity int
	// ArenaCapacity is the initial task arena size.
	ArenaCapacity int
	// Quantum is how long a task may run uninterrupted before the monitor
	// flags it for preemption.
	Quantum time.Duration
	// MonitorInterval is how often the monitor scans running tasks.
	MonitorInterval time.Duration
	// Logger for scheduler internals.
	Logger logging.Interface
}

func New(opts Options) (*Scheduler, error) {
	if opts.Processors <= 0 {
		opts.Processors = runtime.NumCPU()
	}
	if opts.MaxMachines <= 0 {
		opts.MaxMachines = 2 * opts.Processors
	}
	if opts.LocalQueueCapacity <= 0 {
		opts.LocalQueueCapacity = queue.DefaultLocalCapacity
	}
	if opts.ArenaCapacity <= 0 {
		opts.ArenaCapacity = defaultArenaCapacity
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard
	}

	s := &Scheduler{
		logger:              opts.Logger,
		arena:               task.NewArena(opts.ArenaCapacity),
		pool:                newPool(opts.MaxMachines),
		globalCheckInterval: defaultGlobalCheckInterval,
		idleParkThreshold:   defaultIdleParkThreshold,
		idleSleep:           defaultIdleSleep,
		pollInterval:        defaultPollInterval,
		stop:                make(chan struct{}),
		ioDone:              make(chan struct{}),
	}
	s.Broker = pubsub.NewBroker[*task.Task](opts.Logger)
	s.table = resource.NewTable(s.Broker)
	s.global = queue.NewGlobal(s.arena)

	s.processors = make([]*Processor, opts.Processors)
	s.procFree = make(chan *Processor, opts.Processors)
	for i := range s.processors {
		p := newProcessor(opts.LocalQueueCapacity)
		s.processors[i] = p
		s.procFree <- p
	}

	p, err := poller.New(opts.Logger)
	if err != nil {
		return nil, err
	}
	s.poller = p

	s.monitor = preempt.NewMonitor(preempt.Options{
		Quantum:  opts.Quantum,
		Interval: opts.MonitorInterval,
		Source:   s,
		Logger:   opts.Logger,
	})

	s.logger.Debug("scheduler initialized",
		"processors", opts.Processors,
		"max_machines", opts.MaxMachines,
		"preempt_mode", s.monitor.Mode(),
	)
	return s, nil
}

// Start launches the preemption monitor and the I/O loop. Machines are
// created lazily as work arrives. When ctx is cancelled the scheduler shuts
// down.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.monitor.Start()
	go s.ioLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.stop:
		}
	}()
}

// Shutdown stops machines, the monitor and the poller. Tasks that have not
// finished are abandoned in place; Shutdown does not wait for them.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)

		if s.started.Load() {
			s.monitor.Stop()
			s.poller.Wake()
			<-s.ioDone
		}

		machines := s.pool.machines()
		for _, m := range machines {
			close(m.stop)
			m.unpark()
		}
		for _, m := range machines {
			<-m.done
		}

		if err := s.poller.Close(); err != nil {
			s.logger.Error("closing poller", "error", err)
		}
		s.logger.Info("scheduler stopped",
			"tasks_created", s.tasksCreated.Load(),
			"tasks_completed", s.tasksCompleted.Load(),
		)
	})
}

// Create constructs a task from the spec without making it runnable.
func (s *Scheduler) Create(spec Spec) (*task.Task, error) {
	if spec.Entry == nil {
		return nil, errors.New("task entry function required")
	}

	t := task.New(task.CreateOptions{
		Entry:       spec.Entry,
		Arg:         spec.Arg,
		Description: spec.Description,
		Wake:        s.wakeTask,
		AfterUpdate: s.afterTaskUpdate,
	})
	s.arena.Alloc(t)
	s.table.Add(t.ID, t)
	s.tasksCreated.Add(1)

	s.logger.Debug("created task", "task", t)
	return t, nil
}

// Enqueue makes a created task runnable on the global queue.
func (s *Scheduler) Enqueue(id resource.ID) (*task.Task, error) {
	t, err := s.table.Get(id)
	if err != nil {
		return nil, err
	}
	if !t.Enqueued() {
		return nil, ErrNotEnqueuable
	}
	s.global.Push(t.Handle())
	s.kick()

	s.logger.Debug("enqueued task", "task", t)
	return t, nil
}

// Spawn creates and immediately enqueues a task.
func (s *Scheduler) Spawn(spec Spec) (*task.Task, error) {
	t, err := s.Create(spec)
	if err != nil {
		return nil, err
	}
	return s.Enqueue(t.ID)
}

// Cancel requests cancellation. A task that has never run finishes
// immediately; a running or blocked task finishes with ErrCanceled at its
// next checkpoint or resume.
func (s *Scheduler) Cancel(id resource.ID) (*task.Task, error) {
	t, err := s.table.Get(id)
	if err != nil {
		return nil, err
	}
	if err := t.Cancel(); err != nil {
		return nil, err
	}
	// A task cancelled before it was ever queued never reaches a machine, so
	// its arena slot is released here. For queued tasks the machine that
	// pops the handle releases the slot.
	if t.Unqueued() {
		s.release(t)
	}
	s.logger.Info("cancelled task", "task", t)
	return t, nil
}

func (s *Scheduler) Get(id resource.ID) (*task.Task, error) {
	return s.table.Get(id)
}

type ListOptions struct {
	// Status filters tasks to those with a matching status.
	Status []task.Status
	// Oldest lists tasks oldest first rather than newest first.
	Oldest bool
}

func (s *Scheduler) List(opts ListOptions) []*task.Task {
	tasks := s.table.List()

	var i int
	for _, t := range tasks {
		if len(opts.Status) > 0 && !slices.Contains(opts.Status, t.State()) {
			continue
		}
		tasks[i] = t
		i++
	}
	tasks = tasks[:i]

	slices.SortFunc(tasks, func(a, b *task.Task) int {
		if opts.Oldest {
			return a.Created.Compare(b.Created)
		}
		return b.Created.Compare(a.Created)
	})
	return tasks
}

// Subscribe returns a stream of task events. Cancelling ctx unsubscribes.
func (s *Scheduler) Subscribe(ctx context.Context) <-chan resource.Event[*task.Task] {
	return s.Broker.Subscribe(ctx)
}

// Wait blocks until the task has finished, returning its terminal error.
func (s *Scheduler) Wait(id resource.ID) error {
	t, err := s.table.Get(id)
	if err != nil {
		return err
	}
	return t.Wait()
}

// AwaitIO registers fd with the poller on behalf of the calling task, parks
// it until readiness is reported, and unregisters the fd.
func (s *Scheduler) AwaitIO(ex *task.Execution, fd int, interest poller.Interest) error {
	if err := s.poller.Register(fd, interest, ex.Task().Handle()); err != nil {
		return err
	}
	defer s.poller.Unregister(fd)
	return ex.Park()
}

// PreemptMode reports the capability level of the preemption subsystem.
func (s *Scheduler) PreemptMode() preempt.Mode {
	return s.monitor.Mode()
}

// Running implements preempt.Source: the tasks currently executing, one per
// occupied processor, with the OS thread driving each.
func (s *Scheduler) Running() []preempt.Victim {
	var victims []preempt.Victim
	for _, p := range s.processors {
		t := p.Running()
		if t == nil {
			continue
		}
		victims = append(victims, preempt.Victim{
			Task:     t,
			ThreadID: int(p.threadID.Load()),
		})
	}
	return victims
}

// wakeTask moves a blocked task back to runnable, at most once per blocking
// episode, and makes sure a machine will notice.
func (s *Scheduler) wakeTask(t *task.Task) {
	if !t.RequestWake() {
		return
	}
	s.global.Push(t.Handle())
	s.kick()
}

// afterTaskUpdate is installed on every task and runs after each state
// transition.
func (s *Scheduler) afterTaskUpdate(t *task.Task) {
	s.Broker.Publish(resource.UpdatedEvent, t)
	if t.State() == task.Completed {
		s.tasksCompleted.Add(1)
	}
}

// taskFinished disposes of a task whose run step just completed.
func (s *Scheduler) taskFinished(t *task.Task) {
	if err := t.Err; err != nil {
		s.logger.Error("task failed", "task", t, "error", err)
	} else {
		s.logger.Debug("task completed", "task", t)
	}
	s.release(t)
}

// release returns the task's arena slot. The table row survives for
// inspection; only the handle-addressed slot is recycled.
func (s *Scheduler) release(t *task.Task) {
	s.arena.Free(t.Handle())
}

// kick wakes an idle machine, creating one if the pool allows. Called
// whenever new work becomes runnable.
func (s *Scheduler) kick() {
	if s.pool.unpark() {
		return
	}
	m, err := s.pool.create(s)
	if err != nil {
		// Pool at cap; running machines will pick the work up.
		return
	}
	m.start()
}

// ioLoop drives the poller, translating readiness events into task wakes.
func (s *Scheduler) ioLoop() {
	defer close(s.ioDone)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		events, err := s.poller.Wait(s.pollInterval)
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.logger.Error("polling for I/O", "error", err)
			time.Sleep(s.pollInterval)
			continue
		}
		for _, ev := range events {
			t, ok := s.arena.Get(ev.Task)
			if !ok {
				continue
			}
			s.wakeTask(t)
		}
	}
}
