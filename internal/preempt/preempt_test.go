package preempt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weft-lang/weft/internal/task"
)

// fakeSource serves a fixed set of victims to the monitor.
type fakeSource struct {
	mu      sync.Mutex
	victims []Victim
}

func (f *fakeSource) Running() []Victim {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Victim{}, f.victims...)
}

func (f *fakeSource) set(victims ...Victim) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.victims = victims
}

func TestMonitor_mode(t *testing.T) {
	m := NewMonitor(Options{Source: &fakeSource{}})

	// the capability level must reflect what the platform can actually do
	assert.Equal(t, signalSupported, m.Mode() == ModeSignal)
	assert.Equal(t, DefaultQuantum, m.Quantum())
}

func TestMonitor_flagsOverrunningTask(t *testing.T) {
	victim := task.New(task.CreateOptions{
		Entry: func(ex *task.Execution, arg any) error {
			for {
				if err := ex.Checkpoint(); err != nil {
					return err
				}
			}
		},
	})
	require.True(t, victim.Enqueued())
	require.True(t, victim.BeginRun())

	outc := make(chan task.Outcome)
	go func() { outc <- victim.RunStep() }()

	source := &fakeSource{}
	source.set(Victim{Task: victim, ThreadID: CurrentThreadID()})

	m := NewMonitor(Options{
		Quantum:  time.Millisecond,
		Interval: time.Millisecond,
		Source:   source,
	})
	m.Start()
	defer m.Stop()

	select {
	case out := <-outc:
		assert.Equal(t, task.OutcomePreempted, out)
	case <-time.After(5 * time.Second):
		t.Fatal("task was never preempted")
	}
	source.set()

	stats := m.Stats()
	assert.Greater(t, stats.Scans, uint64(0))
	assert.Greater(t, stats.Flagged, uint64(0))

	// cancel the victim; one more run step lets it observe the cancellation
	require.NoError(t, victim.Cancel())
	require.True(t, victim.BeginRun())
	assert.Equal(t, task.OutcomeCompleted, victim.RunStep())
	assert.ErrorIs(t, victim.Wait(), task.ErrCanceled)
}

func TestMonitor_sparesTasksWithinQuantum(t *testing.T) {
	victim := task.New(task.CreateOptions{
		Entry: func(ex *task.Execution, arg any) error { return nil },
	})
	require.True(t, victim.Enqueued())

	source := &fakeSource{}
	source.set(Victim{Task: victim})

	m := NewMonitor(Options{
		Quantum:  time.Hour,
		Interval: time.Millisecond,
		Source:   source,
	})
	m.Start()

	time.Sleep(20 * time.Millisecond)
	m.Stop()

	stats := m.Stats()
	assert.Greater(t, stats.Scans, uint64(0))
	assert.Zero(t, stats.Flagged)
	assert.False(t, victim.PreemptRequested())
}
