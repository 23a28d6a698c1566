package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attrValue(msg Message, key string) (string, bool) {
	for _, attr := range msg.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

func TestLogger_recordsMessages(t *testing.T) {
	logger := NewLogger(Options{Level: "debug"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := logger.Subscribe(ctx)

	logger.Info("started machine", "machine", "m#1")

	msgs := logger.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "started machine", msgs[0].Message)
	assert.Equal(t, "INFO", msgs[0].Level)

	got, ok := attrValue(msgs[0], "machine")
	require.True(t, ok)
	assert.Equal(t, "m#1", got)

	// every record carries the runtime instance ID
	_, ok = attrValue(msgs[0], "instance")
	assert.True(t, ok)

	// the same message arrives as an event
	select {
	case ev := <-sub:
		assert.Equal(t, "started machine", ev.Payload.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("no log event received")
	}
}

func TestLogger_levelFilter(t *testing.T) {
	logger := NewLogger(Options{Level: "error"})

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Error("kept")

	msgs := logger.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Message)
}

func TestLogger_serialOrdering(t *testing.T) {
	logger := NewLogger(Options{Level: "debug"})

	logger.Info("first")
	logger.Info("second")

	msgs := logger.Messages()
	require.Len(t, msgs, 2)
	assert.Greater(t, msgs[1].Serial, msgs[0].Serial)
}

type suffixUpdater struct{}

func (suffixUpdater) UpdateArgs(args ...any) []any {
	return append(args, "component", "sched")
}

func TestLogger_argsUpdater(t *testing.T) {
	logger := NewLogger(Options{Level: "debug"})
	logger.AddArgsUpdater(suffixUpdater{})

	logger.Info("stole tasks")

	msgs := logger.Messages()
	require.Len(t, msgs, 1)
	got, ok := attrValue(msgs[0], "component")
	require.True(t, ok)
	assert.Equal(t, "sched", got)
}

func TestValidLevels(t *testing.T) {
	levels := ValidLevels()
	require.NotEmpty(t, levels)
	// the default level sorts first for flag usage strings
	assert.Equal(t, DefaultLevel, levels[0])
	assert.ElementsMatch(t, []string{"info", "debug", "warn", "error"}, levels)
}
