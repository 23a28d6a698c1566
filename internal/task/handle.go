package task

import "fmt"

// Handle is a generation-checked reference to a task slot in an arena. Queues
// hold handles rather than task pointers: once the slot is freed the
// generation no longer matches and the handle dereferences to nothing, which
// makes it impossible for a stale queue entry to resurrect a dead task.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether the handle references nothing.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("h%d.%d", h.index, h.gen)
}

// Word packs the handle into one machine word, for storage in atomic queue
// slots.
func (h Handle) Word() uint64 {
	return uint64(h.index)<<32 | uint64(h.gen)
}

// HandleFromWord unpacks a handle stored with Word.
func HandleFromWord(w uint64) Handle {
	return Handle{index: uint32(w >> 32), gen: uint32(w)}
}
