package sched

import (
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/weft-lang/weft/internal/preempt"
	"github.com/weft-lang/weft/internal/resource"
	"github.com/weft-lang/weft/internal/task"
)

// MachineState enumerates the lifecycle of a worker machine.
type MachineState int32

const (
	MachineIdle MachineState = iota
	MachineRunning
	MachineSpinning
	MachineParked
	MachineDead
)

func (s MachineState) String() string {
	switch s {
	case MachineIdle:
		return "idle"
	case MachineRunning:
		return "running"
	case MachineSpinning:
		return "spinning"
	case MachineParked:
		return "parked"
	case MachineDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Machine is a worker bound to a dedicated OS thread for its entire
// lifetime. It acquires a processor, drives the find-and-execute loop, and
// parks when there is no work.
type Machine struct {
	ID resource.ID

	s    *Scheduler
	proc *Processor

	state atomic.Int32
	tid   atomic.Int64

	// parkc carries unpark signals; buffered so an unpark racing with the
	// machine's own park cannot be lost.
	parkc chan struct{}
	stop  chan struct{}
	done  chan struct{}

	// rng picks steal victims; seeded from the machine's serial so victim
	// selection is reproducible under a fixed interleaving.
	rng *rand.Rand

	schedtick uint64
	idle      int

	executed atomic.Uint64
	switches atomic.Uint64
	steals   atomic.Uint64
	parks    atomic.Uint64

	lastActive atomic.Int64
}

func newMachine(s *Scheduler) *Machine {
	id := resource.NewID(resource.Machine)
	return &Machine{
		ID:    id,
		s:     s,
		parkc: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		rng:   rand.New(rand.NewSource(int64(id.Serial))),
	}
}

func (m *Machine) start() {
	go m.run()
}

// State returns the machine's current lifecycle state.
func (m *Machine) State() MachineState {
	return MachineState(m.state.Load())
}

func (m *Machine) setState(s MachineState) {
	m.state.Store(int32(s))
}

// run is the machine's event loop. It locks the goroutine to an OS thread so
// preemption signals can target this thread specifically.
func (m *Machine) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	m.tid.Store(int64(preempt.CurrentThreadID()))
	m.s.logger.Debug("machine started", "machine", m.ID)

	defer func() {
		m.releaseProcessor()
		m.setState(MachineDead)
		close(m.done)
		m.s.logger.Debug("machine stopped", "machine", m.ID)
	}()

	for {
		select {
		case <-m.stop:
			return
		default:
		}

		if m.proc == nil {
			if !m.acquireProcessor() {
				if !m.park() {
					return
				}
				continue
			}
		}

		h, ok := m.findRunnable()
		if !ok {
			m.idle++
			if m.idle >= m.s.idleParkThreshold {
				m.idle = 0
				m.releaseProcessor()
				if !m.park() {
					return
				}
				continue
			}
			m.setState(MachineSpinning)
			time.Sleep(m.s.idleSleep)
			continue
		}

		m.idle = 0
		m.execute(h)
	}
}

// findRunnable implements the acquisition order: a periodic global check to
// prevent starvation, then the local queue, then stealing, then the global
// queue as a last resort.
func (m *Machine) findRunnable() (task.Handle, bool) {
	p := m.proc
	m.schedtick++

	// Every Nth iteration the global queue is polled first, so a machine
	// with a perpetually non-empty local queue cannot starve it.
	if m.schedtick%m.s.globalCheckInterval == 0 {
		if h, ok := m.s.global.Pop(); ok {
			return h, true
		}
	}

	if h, ok := p.queue.Pop(); ok {
		return h, true
	}

	if h, ok := m.steal(); ok {
		return h, true
	}

	if h, ok := m.s.global.Pop(); ok {
		return h, true
	}

	var zero task.Handle
	return zero, false
}

// steal attempts to take half of one pseudo-randomly chosen victim's queue.
// The first stolen task is returned for immediate execution and the rest go
// into the local queue.
func (m *Machine) steal() (task.Handle, bool) {
	procs := m.s.processors
	var zero task.Handle
	if len(procs) < 2 {
		return zero, false
	}

	victim := procs[m.rng.Intn(len(procs))]
	if victim == m.proc {
		return zero, false
	}

	batch := victim.queue.StealHalf(nil)
	if len(batch) == 0 {
		return zero, false
	}

	for _, h := range batch[1:] {
		if !m.proc.queue.Push(h) {
			m.s.global.Push(h)
		}
	}

	victim.tasksStolenFrom.Add(uint64(len(batch)))
	m.steals.Add(1)
	m.s.logger.Debug("stole tasks", "machine", m.ID, "victim", victim.ID, "count", len(batch))
	return batch[0], true
}

// execute resolves the handle, runs the task for one step, and disposes of
// the outcome. Stale handles (the task completed or was cancelled and its
// slot reused) are skipped silently.
func (m *Machine) execute(h task.Handle) {
	t, ok := m.s.arena.Get(h)
	if !ok {
		return
	}

	if !t.BeginRun() {
		// Cancelled out of the queue; the slot is released here since no
		// other reference remains.
		if t.IsFinished() {
			m.s.release(t)
		}
		return
	}

	p := m.proc
	p.setRunning(t)
	m.setState(MachineRunning)
	m.lastActive.Store(time.Now().UnixNano())

	out := t.RunStep()

	p.setRunning(nil)
	p.tasksAcquired.Add(1)
	m.switches.Add(1)

	switch out {
	case task.OutcomeCompleted:
		m.executed.Add(1)
		m.s.taskFinished(t)
	case task.OutcomeYielded:
		m.enqueueLocal(h)
	case task.OutcomePreempted:
		m.s.preemptions.Add(1)
		m.enqueueLocal(h)
	case task.OutcomeBlocked:
		// Ownership passed to whichever waker resumes it.
	}
}

// enqueueLocal pushes a still-runnable task back onto the local queue,
// spilling half the queue to the global queue on overflow.
func (m *Machine) enqueueLocal(h task.Handle) {
	p := m.proc
	if p.queue.Push(h) {
		return
	}

	spill := p.queue.StealHalf(nil)
	spill = append(spill, h)
	m.s.global.PushBatch(spill)
	m.s.kick()
}

func (m *Machine) acquireProcessor() bool {
	select {
	case p := <-m.s.procFree:
		m.proc = p
		p.attach(int(m.tid.Load()))
		return true
	default:
		return false
	}
}

func (m *Machine) releaseProcessor() {
	if m.proc == nil {
		return
	}
	p := m.proc
	m.proc = nil
	p.detach()
	m.s.procFree <- p
}

// park blocks until unparked or stopped. Returns false when the machine
// should exit.
func (m *Machine) park() bool {
	m.setState(MachineParked)
	m.parks.Add(1)
	m.s.pool.addIdle(m)

	// Work enqueued before we became visible as idle was accompanied by a
	// kick that may have found nobody to wake; re-check now that we are. A
	// free processor is required too: without one the woken machine cannot
	// run the work, and waking here would pop this machine straight off the
	// idle list and spin it through park again.
	if m.s.global.Len() > 0 && len(m.s.procFree) > 0 {
		m.s.pool.unpark()
	}

	select {
	case <-m.parkc:
		m.setState(MachineIdle)
		return true
	case <-m.stop:
		return false
	}
}

func (m *Machine) unpark() {
	select {
	case m.parkc <- struct{}{}:
	default:
	}
}

// MachineStats is a read-only snapshot of a machine's counters.
type MachineStats struct {
	ID       string `yaml:"id"`
	State    string `yaml:"state"`
	Executed uint64 `yaml:"executed"`
	Switches uint64 `yaml:"switches"`
	Steals   uint64 `yaml:"steals"`
	Parks    uint64 `yaml:"parks"`
}

func (m *Machine) Stats() MachineStats {
	return MachineStats{
		ID:       m.ID.String(),
		State:    m.State().String(),
		Executed: m.executed.Load(),
		Switches: m.switches.Load(),
		Steals:   m.steals.Load(),
		Parks:    m.parks.Load(),
	}
}
