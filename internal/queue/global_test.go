package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weft-lang/weft/internal/task"
)

func TestGlobal_fifo(t *testing.T) {
	arena := task.NewArena(8)
	handles := newHandles(t, arena, 3)

	q := NewGlobal(arena)
	for _, h := range handles {
		q.Push(h)
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range handles {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestGlobal_pushBatch(t *testing.T) {
	arena := task.NewArena(8)
	handles := newHandles(t, arena, 4)

	q := NewGlobal(arena)
	q.Push(handles[0])
	q.PushBatch(handles[1:])

	for _, want := range handles {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestGlobal_stats(t *testing.T) {
	arena := task.NewArena(8)
	handles := newHandles(t, arena, 2)

	q := NewGlobal(arena)
	q.PushBatch(handles)
	_, ok := q.Pop()
	require.True(t, ok)

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Pushed)
	assert.Equal(t, uint64(1), stats.Popped)
	assert.Equal(t, 1, stats.Len)
}
