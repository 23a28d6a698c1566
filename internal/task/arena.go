package task

import (
	"sync"
	"sync/atomic"
)

// Arena owns the storage for all live tasks. Allocation hands out a
// generation-checked handle; freeing a slot bumps its generation so any
// handle still floating around in a queue dereferences to nothing.
//
// A task must not be freed while a queue might still link to it: the owner
// of the handle (the machine that popped it, or the scheduler for tasks that
// never reached a queue) frees it after the task is terminal.
type Arena struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32

	live   atomic.Int64
	allocs atomic.Uint64
}

type slot struct {
	gen  uint32
	task *Task
}

func NewArena(capacity int) *Arena {
	return &Arena{
		slots: make([]slot, 0, capacity),
	}
}

// Alloc places the task in a free slot and assigns it its handle.
func (a *Arena) Alloc(t *Task) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].task = t
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{gen: 1, task: t})
	}

	h := Handle{index: idx, gen: a.slots[idx].gen}
	t.handle = h
	a.live.Add(1)
	a.allocs.Add(1)
	return h
}

// Get dereferences a handle, failing if the slot has since been freed.
func (a *Arena) Get(h Handle) (*Task, bool) {
	if h.IsZero() {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.index]
	if s.gen != h.gen || s.task == nil {
		return nil, false
	}
	return s.task, true
}

// Free releases the slot, invalidating all outstanding handles to it.
// Returns false if the handle was already stale.
func (a *Arena) Free(h Handle) bool {
	if h.IsZero() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.index]
	if s.gen != h.gen || s.task == nil {
		return false
	}
	s.task = nil
	s.gen++
	if s.gen == 0 {
		// generation zero is reserved for the zero handle
		s.gen = 1
	}
	a.free = append(a.free, h.index)
	a.live.Add(-1)
	return true
}

// Live returns the number of allocated slots.
func (a *Arena) Live() int {
	return int(a.live.Load())
}

// Allocs returns the total number of allocations made.
func (a *Arena) Allocs() uint64 {
	return a.allocs.Load()
}
