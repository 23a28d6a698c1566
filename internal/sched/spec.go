package sched

import "github.com/weft-lang/weft/internal/task"

// Spec is a blueprint for a task.
type Spec struct {
	// Entry is the function the task executes. Required.
	Entry task.EntryFunc
	// Arg is passed to Entry on the task's first run.
	Arg any
	// Description is optional human-readable context for logs and listings.
	Description string
}
