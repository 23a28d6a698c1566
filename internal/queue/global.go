package queue

import (
	"sync"
	"sync/atomic"

	"github.com/weft-lang/weft/internal/task"
)

// Global is the unbounded overflow queue shared by all processors. Tasks are
// chained through their arena handles; the mutex guards head and tail
// together so the pair stays consistent. Delivery is FIFO with respect to
// pushes made under the mutex.
type Global struct {
	mu    sync.Mutex
	arena *task.Arena
	head  task.Handle
	tail  task.Handle
	size  int

	pushed atomic.Uint64
	popped atomic.Uint64
}

func NewGlobal(arena *task.Arena) *Global {
	return &Global{arena: arena}
}

// Push appends a handle to the tail.
func (q *Global) Push(h task.Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.push(h)
}

// PushBatch appends handles in order, under a single critical section.
// Used by processors spilling the excess of an overflowing local queue.
func (q *Global) PushBatch(hs []task.Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, h := range hs {
		q.push(h)
	}
}

func (q *Global) push(h task.Handle) {
	t, ok := q.arena.Get(h)
	if !ok {
		// stale handle; the task was freed before it could be queued
		return
	}
	t.SetLink(task.Handle{})

	if q.tail.IsZero() {
		q.head = h
	} else {
		prev, ok := q.arena.Get(q.tail)
		if ok {
			prev.SetLink(h)
		}
	}
	q.tail = h
	q.size++
	q.pushed.Add(1)
}

// Pop removes the oldest handle. Returns false when empty.
func (q *Global) Pop() (task.Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head.IsZero() {
		return task.Handle{}, false
	}

	h := q.head
	t, ok := q.arena.Get(h)
	if !ok {
		// A queued task must not be freed; treat a stale head as a drained
		// queue rather than corrupt the chain.
		q.head = task.Handle{}
		q.tail = task.Handle{}
		q.size = 0
		return task.Handle{}, false
	}

	q.head = t.Link()
	t.SetLink(task.Handle{})
	if q.head.IsZero() {
		q.tail = task.Handle{}
	}
	q.size--
	q.popped.Add(1)
	return h, true
}

// Len returns the current queue length.
func (q *Global) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.size
}

// GlobalStats is a read-only snapshot of the queue's counters.
type GlobalStats struct {
	Pushed uint64 `yaml:"pushed"`
	Popped uint64 `yaml:"popped"`
	Len    int    `yaml:"len"`
}

func (q *Global) Stats() GlobalStats {
	return GlobalStats{
		Pushed: q.pushed.Load(),
		Popped: q.popped.Load(),
		Len:    q.Len(),
	}
}
