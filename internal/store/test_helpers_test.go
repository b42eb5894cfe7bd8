package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/vmstate/internal/attrtree"
	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/value"
)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// buildTestHistory returns a small tree and history:
//
//	1/Threads/7/status: [10,20)=5 [20,open)=4
//	1/Threads/7/name:   [10,open)="main"
//	CPUs/0/status:      [15,30)=1001
func buildTestHistory(t *testing.T) (*attrtree.Tree, *history.Store) {
	t.Helper()
	tree := attrtree.New()
	hist := history.New()

	status := tree.ResolveAbsolute("1", "Threads", "7", "status")
	name := tree.ResolveAbsolute("1", "Threads", "7", "name")
	cpu := tree.ResolveAbsolute("CPUs", "0", "status")

	mustMutate(t, hist, status, 10, value.Int(5))
	mustMutate(t, hist, name, 10, value.Text("main"))
	mustMutate(t, hist, cpu, 15, value.Int(1001))
	mustMutate(t, hist, status, 20, value.Int(4))
	mustMutate(t, hist, cpu, 30, value.Absent{})
	return tree, hist
}

func mustMutate(t *testing.T, hist *history.Store, h attrtree.Handle, at int64, v value.Value) {
	t.Helper()
	if err := hist.Mutate(h, at, v); err != nil {
		t.Fatalf("Mutate(%d, %d) failed: %v", h, at, err)
	}
}

func testRecord(id string) SessionRecord {
	return SessionRecord{
		ID:             id,
		Source:         "trace.jsonl",
		EngineVersion:  1,
		Fingerprint:    "test-fingerprint",
		Events:         5,
		Mutations:      5,
		Attributes:     9,
		Threads:        1,
		FirstTimestamp: 10,
		LastTimestamp:  30,
	}
}
