package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_version(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	require.NoError(t, Start(&stdout, &stderr, []string{"--version"}))
	assert.True(t, strings.HasPrefix(stdout.String(), "weft "))
}

func TestApp_demo(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	err := Start(&stdout, &stderr, []string{
		"--processors", "2",
		"--demo", "futures",
		"--tasks", "8",
		"--log-level", "error",
	})
	require.NoError(t, err)

	// the run ends with a YAML stats report on stdout
	assert.Contains(t, stdout.String(), "tasks_created: 9")
	assert.Contains(t, stdout.String(), "tasks_completed: 9")
}

func TestApp_demoIO(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	err := Start(&stdout, &stderr, []string{
		"--processors", "2",
		"--demo", "io",
		"--tasks", "4",
		"--log-level", "error",
	})
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "poller:")
}
