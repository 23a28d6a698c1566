package sched

import (
	"sync/atomic"

	"github.com/weft-lang/weft/internal/queue"
	"github.com/weft-lang/weft/internal/resource"
	"github.com/weft-lang/weft/internal/task"
)

// Processor is a scheduling context bound to at most one machine at a time.
// It owns a local run queue and is created once at scheduler initialization;
// processors are attached and detached as machines come and go but are never
// destroyed while the runtime is alive.
type Processor struct {
	ID resource.ID

	queue *queue.Local

	// running is the task currently executing on this processor, for the
	// preemption monitor's scans.
	running atomic.Pointer[task.Task]

	// threadID is the OS thread of the attached machine; zero when detached.
	threadID atomic.Int64

	tasksAcquired   atomic.Uint64
	tasksStolenFrom atomic.Uint64
}

func newProcessor(localCapacity int) *Processor {
	return &Processor{
		ID:    resource.NewID(resource.Processor),
		queue: queue.NewLocal(localCapacity),
	}
}

func (p *Processor) setRunning(t *task.Task) {
	p.running.Store(t)
}

// Running returns the task currently executing on this processor, if any.
func (p *Processor) Running() *task.Task {
	return p.running.Load()
}

func (p *Processor) attach(tid int) {
	p.threadID.Store(int64(tid))
}

func (p *Processor) detach() {
	p.threadID.Store(0)
}

// ProcessorStats is a read-only snapshot of a processor's counters.
type ProcessorStats struct {
	ID         string `yaml:"id"`
	Acquired   uint64 `yaml:"acquired"`
	StolenFrom uint64 `yaml:"stolen_from"`
	QueueLen   int    `yaml:"queue_len"`
}

func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		ID:         p.ID.String(),
		Acquired:   p.tasksAcquired.Load(),
		StolenFrom: p.tasksStolenFrom.Load(),
		QueueLen:   p.queue.Len(),
	}
}
