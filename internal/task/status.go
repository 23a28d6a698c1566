package task

import "time"

// Status is a stage in the lifecycle of a task.
type Status int32

const (
	// Created is the initial status: the task exists but has not been handed
	// to the scheduler's queues yet.
	Created Status = iota
	// Runnable tasks are queued, waiting for a machine to execute them.
	Runnable
	// Running tasks are being executed by exactly one machine.
	Running
	// Blocked tasks are suspended awaiting an I/O readiness event or a
	// future resolution; only an explicit wake returns them to Runnable.
	Blocked
	// Completed is terminal; a completed task is never re-enqueued.
	Completed
)

func (s Status) String() string {
	return [...]string{
		"created",
		"runnable",
		"running",
		"blocked",
		"completed",
	}[s]
}

type statusTimestamps struct {
	started time.Time
	ended   time.Time
}

func (sd statusTimestamps) Elapsed() time.Duration {
	if sd.started.IsZero() {
		return 0
	}
	if sd.ended.IsZero() {
		return time.Since(sd.started)
	}
	return sd.ended.Sub(sd.started)
}
