// Package testutil holds builders shared by tests across packages.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/value"
)

// FixedIDGenerator returns the same session id every time.
//
// Golden snapshots include the session id, so scenarios pin it.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator returning id, or
// "test-session" when id is empty.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-session"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Event builds an event without CPU information. Field values go through
// value.FromAny, so plain ints, strings and nil work.
func Event(kind string, ts int64, fields map[string]any) event.Event {
	ev := event.Event{Kind: kind, Timestamp: ts, CPU: event.NoCPU, Fields: make(map[string]value.Value, len(fields))}
	for k, raw := range fields {
		v, err := value.FromAny(raw)
		if err != nil {
			panic(fmt.Sprintf("testutil.Event %s field %q: %v", kind, k, err))
		}
		ev.Fields[k] = v
	}
	return ev
}

// ThreadStart builds a thread_start event.
func ThreadStart(ts, tid, pid int64, name string) event.Event {
	return Event("thread_start", ts, map[string]any{"tid": tid, "pid": pid, "name": name})
}

// ThreadStop builds a thread_stop event.
func ThreadStop(ts, tid, pid int64) event.Event {
	return Event("thread_stop", ts, map[string]any{"tid": tid, "pid": pid})
}

// ThreadStatus builds a thread_status event.
func ThreadStatus(ts, tid, pid, status int64) event.Event {
	return Event("thread_status", ts, map[string]any{"context._vtid": tid, "context._vpid": pid, "status": status})
}

// VMThreadStart builds a vmthread_start event.
func VMThreadStart(ts, tid, pid int64, name string) event.Event {
	return Event("vmthread_start", ts, map[string]any{"context._vtid": tid, "context._vpid": pid, "name": name})
}

// VMThreadStop builds a vmthread_stop event.
func VMThreadStop(ts, pid, osTID int64) event.Event {
	return Event("vmthread_stop", ts, map[string]any{"context._vpid": pid, "os_threadid": osTID})
}

// GCTaskThreadStart builds a gctaskthread_start event.
func GCTaskThreadStart(ts, pid, osTID int64, name string) event.Event {
	return Event("gctaskthread_start", ts, map[string]any{"context._vpid": pid, "os_threadid": osTID, "name": name})
}

// PoolGC builds a pool_gc_begin or pool_gc_end event.
func PoolGC(kind string, ts, pid int64, gcName, pool string) event.Event {
	return Event(kind, ts, map[string]any{"pid": pid, "gc_name": gcName, "pool_name": pool})
}

// ReportGC builds a report_gc_start or report_gc_end event.
func ReportGC(kind string, ts, pid, code int64) event.Event {
	return Event(kind, ts, map[string]any{"pid": pid, "name": code})
}

// MethodCompile builds a method_compile_begin or method_compile_end event.
func MethodCompile(kind string, ts, tid, pid int64, compiler, class, method string) event.Event {
	return Event(kind, ts, map[string]any{
		"tid": tid, "pid": pid,
		"compilerName": compiler, "className": class, "methodName": method,
	})
}

// Monitor builds one of the monitor_* events.
func Monitor(kind string, ts, tid, pid int64, monitor string) event.Event {
	return Event(kind, ts, map[string]any{"tid": tid, "pid": pid, "monitorName": monitor})
}

// Task builds a vmops_* or gctask_* event.
func Task(kind string, ts, tid, pid int64, name string) event.Event {
	return Event(kind, ts, map[string]any{"context._vtid": tid, "context._vpid": pid, "name": name})
}

// SchedSwitch builds a sched_switch event on cpu.
func SchedSwitch(ts int64, cpu int, nextTID int64, comm string) event.Event {
	ev := Event("sched_switch", ts, map[string]any{"next_tid": nextTID, "next_comm": comm})
	ev.CPU = cpu
	return ev
}

// WriteTrace writes events as a JSON-lines file under dir and returns its
// path. Names ending in ".sz" are snappy compressed.
func WriteTrace(t testing.TB, dir, name string, events ...event.Event) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var w io.Writer = f
	if strings.HasSuffix(name, event.SnappySuffix) {
		sw := snappy.NewBufferedWriter(f)
		defer func() { require.NoError(t, sw.Close()) }()
		w = sw
	}

	for _, ev := range events {
		require.NoError(t, event.Encode(w, ev))
	}
	return path
}
