package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunJournal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	err := RunSimulation([]string{
		"-duration", "60s",
		"-journal", db,
		"-label", "smoke",
		"-report", "",
	}, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RunJournal([]string{"-db", db}, &out, &bytes.Buffer{}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "RUN")
	assert.Contains(t, lines[1], "smoke")

	out.Reset()
	require.NoError(t, RunJournal([]string{"-db", db, "-run", "last", "-action", "lease.granted"}, &out, &bytes.Buffer{}))
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, out.String())
	assert.Contains(t, lines[1], "AA:BB:CC:DD:EE:01")
	assert.Contains(t, lines[1], "10.0.0.10")
	assert.Contains(t, lines[1], "hostname=alice")
	assert.Contains(t, lines[2], "AA:BB:CC:DD:EE:02")

	out.Reset()
	require.NoError(t, RunJournal([]string{"-db", db, "-run", "last", "-n", "1"}, &out, &bytes.Buffer{}))
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)
}

func TestRunJournal_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")

	var out bytes.Buffer
	require.NoError(t, RunJournal([]string{"-db", db}, &out, &bytes.Buffer{}))
	assert.Equal(t, "RUN  STARTED  SEED  EVENTS  LABEL\n", out.String())

	err := RunJournal([]string{"-db", db, "-run", "last"}, &out, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no runs")
}

func TestFormatDetails(t *testing.T) {
	assert.Equal(t, "-", formatDetails(nil))
	assert.Equal(t, "a=1 b=x", formatDetails(map[string]any{"b": "x", "a": 1}))
}
