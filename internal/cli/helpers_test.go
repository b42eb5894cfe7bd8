package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/testutil"
)

// sampleEvents is a small trace for process 100: thread 1 starts at 10, a
// young collection runs from 20 to 30, and the thread stops at 40.
func sampleEvents() []event.Event {
	clock := testutil.NewDeterministicClock(0)
	return []event.Event{
		testutil.ThreadStart(clock.Advance(10), 1, 100, "main"),
		testutil.ReportGC("jvm:report_gc_start", clock.Advance(10), 100, 3),
		testutil.ReportGC("jvm:report_gc_end", clock.Advance(10), 100, 3),
		testutil.ThreadStop(clock.Advance(10), 1, 100),
	}
}

// fatalEvents aborts on an unknown GC code.
func fatalEvents() []event.Event {
	return []event.Event{
		testutil.ThreadStart(10, 1, 100, "main"),
		testutil.ReportGC("report_gc_start", 20, 100, 99),
		testutil.ThreadStop(30, 1, 100),
	}
}

// executeRoot runs the root command with args and returns stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedDatabase replays the sample trace into a new database as session
// "s1" and returns the database path.
func seedDatabase(t *testing.T, seal bool) string {
	t.Helper()
	dir := t.TempDir()
	trace := testutil.WriteTrace(t, dir, "sample.jsonl", sampleEvents()...)
	dbPath := filepath.Join(dir, "vmstate.db")

	opts := &ReplayOptions{
		RootOptions: &RootOptions{Format: "json"},
		Database:    dbPath,
		Jobs:        1,
		Seal:        seal,
		IDGenerator: engine.NewFixedGenerator("s1"),
	}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())
	require.NoError(t, runReplay(opts, []string{trace}, cmd))

	_, err := os.Stat(dbPath)
	require.NoError(t, err)
	return dbPath
}
