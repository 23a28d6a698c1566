package sched

import (
	"github.com/weft-lang/weft/internal/poller"
	"github.com/weft-lang/weft/internal/preempt"
	"github.com/weft-lang/weft/internal/queue"
)

// Stats is a point-in-time snapshot of the whole runtime, suitable for
// rendering as YAML.
type Stats struct {
	TasksCreated   uint64 `yaml:"tasks_created"`
	TasksCompleted uint64 `yaml:"tasks_completed"`
	TasksLive      int    `yaml:"tasks_live"`
	Preemptions    uint64 `yaml:"preemptions"`

	Global  queue.GlobalStats `yaml:"global_queue"`
	Preempt preempt.Stats     `yaml:"preempt"`
	Poller  poller.Stats      `yaml:"poller"`

	Machines   []MachineStats   `yaml:"machines"`
	Processors []ProcessorStats `yaml:"processors"`
}

func (s *Scheduler) Stats() Stats {
	stats := Stats{
		TasksCreated:   s.tasksCreated.Load(),
		TasksCompleted: s.tasksCompleted.Load(),
		TasksLive:      s.arena.Live(),
		Preemptions:    s.preemptions.Load(),
		Global:         s.global.Stats(),
		Preempt:        s.monitor.Stats(),
		Poller:         s.poller.Stats(),
	}
	for _, m := range s.pool.machines() {
		stats.Machines = append(stats.Machines, m.Stats())
	}
	for _, p := range s.processors {
		stats.Processors = append(stats.Processors, p.Stats())
	}
	return stats
}
