// Package preempt enforces a wall-clock upper bound on uninterrupted task
// execution. A background monitor scans the tasks currently running on each
// processor and flags any that have exceeded their quantum; flagged tasks
// reschedule themselves at their next safe point.
//
// There are exactly two capability levels. On platforms with thread signal
// delivery the monitor additionally signals the owning thread, bounding the
// latency of tasks stuck in slow syscalls. Everywhere else it degrades to
// cooperative-only: the flag alone, observed at safe points. The active
// level is reported by Mode, never assumed. Only Unix platforms are
// supported.
package preempt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-lang/weft/internal/logging"
	"github.com/weft-lang/weft/internal/task"
)

const (
	// DefaultQuantum is the maximum duration a task may run before becoming
	// eligible for preemption.
	DefaultQuantum = 10 * time.Millisecond
	// DefaultInterval is how often the monitor scans running tasks.
	DefaultInterval = 10 * time.Millisecond
)

// Mode is the preemption capability level in effect.
type Mode int

const (
	// ModeCooperative: the preempt flag is only polled at the task's own
	// safe points; no asynchronous interruption occurs.
	ModeCooperative Mode = iota
	// ModeSignal: flagged tasks additionally have their machine's thread
	// signaled, interrupting blocking syscalls.
	ModeSignal
)

func (m Mode) String() string {
	if m == ModeSignal {
		return "signal"
	}
	return "cooperative"
}

// Victim pairs a running task with the OS thread executing it.
type Victim struct {
	Task     *task.Task
	ThreadID int
}

// Source enumerates the tasks currently being executed.
type Source interface {
	Running() []Victim
}

type Options struct {
	Quantum  time.Duration
	Interval time.Duration
	Source   Source
	Logger   logging.Interface
}

// Monitor is the background timer driving preemption.
type Monitor struct {
	quantum  time.Duration
	interval time.Duration
	source   Source
	mode     Mode
	logger   logging.Interface

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	scans    atomic.Uint64
	flagged  atomic.Uint64
	signaled atomic.Uint64
}

func NewMonitor(opts Options) *Monitor {
	if opts.Quantum <= 0 {
		opts.Quantum = DefaultQuantum
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard
	}

	mode := ModeCooperative
	if signalSupported {
		mode = ModeSignal
	}

	return &Monitor{
		quantum:  opts.Quantum,
		interval: opts.Interval,
		source:   opts.Source,
		mode:     mode,
		logger:   opts.Logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Mode reports the capability level selected at construction.
func (m *Monitor) Mode() Mode {
	return m.mode
}

// Quantum reports the configured quantum.
func (m *Monitor) Quantum() time.Duration {
	return m.quantum
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.scan()
		}
	}
}

func (m *Monitor) scan() {
	m.scans.Add(1)

	for _, v := range m.source.Running() {
		running := v.Task.RunningFor()
		if running <= m.quantum {
			continue
		}
		if !v.Task.MarkPreempt() {
			// already flagged on a previous scan
			continue
		}
		m.flagged.Add(1)
		m.logger.Debug("flagged task for preemption", "task", v.Task, "running", running)

		if m.mode == ModeSignal && v.ThreadID != 0 {
			if err := signalThread(v.ThreadID); err == nil {
				m.signaled.Add(1)
			}
		}
	}
}

// Stats is a read-only snapshot of the monitor's counters.
type Stats struct {
	Mode     string `yaml:"mode"`
	Scans    uint64 `yaml:"scans"`
	Flagged  uint64 `yaml:"flagged"`
	Signaled uint64 `yaml:"signaled"`
}

func (m *Monitor) Stats() Stats {
	return Stats{
		Mode:     m.mode.String(),
		Scans:    m.scans.Load(),
		Flagged:  m.flagged.Load(),
		Signaled: m.signaled.Load(),
	}
}
