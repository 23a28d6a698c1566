package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher records published events.
type fakePublisher[T any] struct {
	events []Event[T]
}

func (f *fakePublisher[T]) Publish(t EventType, payload T) {
	f.events = append(f.events, Event[T]{Type: t, Payload: payload})
}

func TestTable(t *testing.T) {
	pub := &fakePublisher[string]{}
	table := NewTable[string](pub)

	id := NewID(Task)
	table.Add(id, "alpha")
	assert.Equal(t, 1, table.Len())

	got, err := table.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got)

	_, err = table.Get(NewID(Task))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"alpha"}, table.List())

	table.Delete(id)
	assert.Equal(t, 0, table.Len())

	require.Len(t, pub.events, 2)
	assert.Equal(t, CreatedEvent, pub.events[0].Type)
	assert.Equal(t, DeletedEvent, pub.events[1].Type)
}

func TestID(t *testing.T) {
	id1 := NewID(Machine)
	id2 := NewID(Machine)

	// serials are monotonic per kind
	assert.Greater(t, id2.Serial, id1.Serial)
	assert.Equal(t, Machine, id1.Kind)
	assert.Contains(t, id1.String(), "m#")
}
