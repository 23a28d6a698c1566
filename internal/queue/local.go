package queue

import (
	"sync/atomic"

	"github.com/weft-lang/weft/internal/task"
)

// DefaultLocalCapacity is the run queue capacity a processor gets unless
// configured otherwise.
const DefaultLocalCapacity = 256

// Local is the fixed-capacity run queue owned by one processor.
//
// Only the owning processor's machine pushes; pops and steals consume from
// the head, where a compare-and-swap decides ownership of each entry, so a
// handle is never observed twice. Pop order is FIFO. On overflow the caller
// spills to the global queue; Push never blocks.
//
// Slots are atomic words holding packed handles. A stealer working from a
// stale head snapshot may read a slot the owner is concurrently rewriting
// after a wrap; its CAS then fails and the read value is discarded, but the
// access itself must still be race-free.
type Local struct {
	head atomic.Uint32
	tail atomic.Uint32
	ring []atomic.Uint64
	mask uint32
}

func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		capacity = DefaultLocalCapacity
	}
	capacity = nextPowerOfTwo(capacity)
	return &Local{
		ring: make([]atomic.Uint64, capacity),
		mask: uint32(capacity - 1),
	}
}

// Push appends a handle. Owner only. Returns false when full; the owner
// must then spill to the global queue.
func (q *Local) Push(h task.Handle) bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail-head >= uint32(len(q.ring)) {
		return false
	}
	q.ring[tail&q.mask].Store(h.Word())
	q.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest handle. Owner only, but contends with stealers at
// the head, hence the CAS.
func (q *Local) Pop() (task.Handle, bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		if head == tail {
			return task.Handle{}, false
		}
		h := task.HandleFromWord(q.ring[head&q.mask].Load())
		if q.head.CompareAndSwap(head, head+1) {
			return h, true
		}
	}
}

// StealHalf removes roughly half of the queued handles in one claim,
// appending them to dst. Invoked by a different machine's event loop; the
// CAS on head guarantees each entry is claimed by exactly one party.
func (q *Local) StealHalf(dst []task.Handle) []task.Handle {
	return q.grab(dst)
}

// Drain removes all queued handles, appending them to dst. Used by the owner
// to empty the queue at shutdown.
func (q *Local) Drain(dst []task.Handle) []task.Handle {
	for {
		before := len(dst)
		dst = q.grab(dst)
		if len(dst) == before {
			return dst
		}
	}
}

func (q *Local) grab(dst []task.Handle) []task.Handle {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		n := tail - head
		if n == 0 {
			return dst
		}
		take := n - n/2 // half, rounded up
		// A competing claim moves head, failing our CAS, so the copy is
		// kept only if these slots were still ours at claim time.
		tmp := make([]task.Handle, take)
		for i := uint32(0); i < take; i++ {
			tmp[i] = task.HandleFromWord(q.ring[(head+i)&q.mask].Load())
		}
		if q.head.CompareAndSwap(head, head+take) {
			return append(dst, tmp...)
		}
	}
}

// Len returns the approximate number of queued handles; exact only when no
// steal is in flight.
func (q *Local) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	return int(tail - head)
}

// Cap returns the queue capacity.
func (q *Local) Cap() int {
	return len(q.ring)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
