package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weft-lang/weft/internal/task"
)

func newHandles(t *testing.T, arena *task.Arena, n int) []task.Handle {
	t.Helper()

	handles := make([]task.Handle, n)
	for i := range handles {
		handles[i] = arena.Alloc(task.New(task.CreateOptions{}))
	}
	return handles
}

func TestLocal_fifo(t *testing.T) {
	arena := task.NewArena(8)
	handles := newHandles(t, arena, 4)

	q := NewLocal(8)
	for _, h := range handles {
		require.True(t, q.Push(h))
	}
	assert.Equal(t, 4, q.Len())

	for _, want := range handles {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestLocal_full(t *testing.T) {
	arena := task.NewArena(8)
	handles := newHandles(t, arena, 5)

	q := NewLocal(4)
	for _, h := range handles[:4] {
		require.True(t, q.Push(h))
	}
	// at capacity; the owner must spill
	assert.False(t, q.Push(handles[4]))

	// popping one frees a slot
	_, ok := q.Pop()
	require.True(t, ok)
	assert.True(t, q.Push(handles[4]))
}

func TestLocal_stealHalf(t *testing.T) {
	arena := task.NewArena(8)
	handles := newHandles(t, arena, 6)

	q := NewLocal(8)
	for _, h := range handles {
		require.True(t, q.Push(h))
	}

	// half rounded up, taken from the head, i.e. the oldest entries
	stolen := q.StealHalf(nil)
	assert.Equal(t, handles[:3], stolen)
	assert.Equal(t, 3, q.Len())

	// remainder still pops in order
	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, handles[3], got)
}

func TestLocal_stealEmpty(t *testing.T) {
	q := NewLocal(8)
	assert.Empty(t, q.StealHalf(nil))
}

func TestLocal_drain(t *testing.T) {
	arena := task.NewArena(8)
	handles := newHandles(t, arena, 5)

	q := NewLocal(8)
	for _, h := range handles {
		require.True(t, q.Push(h))
	}

	drained := q.Drain(nil)
	assert.Equal(t, handles, drained)
	assert.Equal(t, 0, q.Len())
}

// TestLocal_noTaskLoss races an owner popping against stealers, checking
// every pushed handle is claimed exactly once.
func TestLocal_noTaskLoss(t *testing.T) {
	const total = 1000

	arena := task.NewArena(total)
	handles := newHandles(t, arena, total)

	q := NewLocal(64)

	var mu sync.Mutex
	claimed := make(map[task.Handle]int, total)
	claim := func(hs ...task.Handle) {
		mu.Lock()
		defer mu.Unlock()
		for _, h := range hs {
			claimed[h]++
		}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					claim(q.StealHalf(nil)...)
				}
			}
		}()
	}

	// owner: push everything, popping when full
	for _, h := range handles {
		for !q.Push(h) {
			if got, ok := q.Pop(); ok {
				claim(got)
			}
		}
	}
	// owner drains the rest
	claim(q.Drain(nil)...)
	close(done)
	wg.Wait()

	// stealers may have grabbed entries after the drain check; sweep once more
	claim(q.Drain(nil)...)

	require.Len(t, claimed, total)
	for h, n := range claimed {
		assert.Equal(t, 1, n, "handle %s claimed %d times", h, n)
	}
}

// TestLocal_noTaskLossWrapAround shrinks the ring so the tail laps the
// buffer constantly while stealers work from stale head snapshots. The
// owner then rewrites slots a stealer is still reading before its claim
// fails, which the atomic slot words must tolerate.
func TestLocal_noTaskLossWrapAround(t *testing.T) {
	const total = 20000

	arena := task.NewArena(total)
	handles := newHandles(t, arena, total)

	q := NewLocal(8)

	var mu sync.Mutex
	claimed := make(map[task.Handle]int, total)
	claim := func(hs ...task.Handle) {
		mu.Lock()
		defer mu.Unlock()
		for _, h := range hs {
			claimed[h]++
		}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					claim(q.StealHalf(nil)...)
				}
			}
		}()
	}

	for _, h := range handles {
		for !q.Push(h) {
			if got, ok := q.Pop(); ok {
				claim(got)
			}
		}
	}
	claim(q.Drain(nil)...)
	close(done)
	wg.Wait()
	claim(q.Drain(nil)...)

	require.Len(t, claimed, total)
	for h, n := range claimed {
		assert.Equal(t, 1, n, "handle %s claimed %d times", h, n)
	}
}
