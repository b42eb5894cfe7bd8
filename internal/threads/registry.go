// Package threads tracks the threads seen during one replay.
//
// Entries are keyed by OS thread id and record the owning process, the
// display name and a category derived at registration. The registry only
// grows: a stopped thread keeps its entry so later scheduling events can
// still be attributed.
package threads

import (
	"cmp"
	"slices"
	"strings"
)

// Category classifies a runtime thread.
type Category string

const (
	General  Category = "general"
	Compiler Category = "compiler"
	GC       Category = "gc"
	VM       Category = "vm"
)

// Markers matched against thread names by Classify.
const (
	compilerMarker = "CompilerThread"
	gcMarker       = "GC task thread"
)

// Classify derives a category from a thread's display name.
func Classify(name string) Category {
	switch {
	case strings.Contains(name, compilerMarker):
		return Compiler
	case strings.Contains(name, gcMarker):
		return GC
	default:
		return General
	}
}

// Entry describes one registered thread.
type Entry struct {
	TID      int64
	PID      int64
	Name     string
	Category Category
}

// Registry maps thread ids to entries. It is owned by a single session and
// is not safe for concurrent use.
type Registry struct {
	entries map[int64]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]Entry)}
}

// Upsert inserts or replaces the entry for tid.
func (r *Registry) Upsert(tid, pid int64, name string, cat Category) {
	r.entries[tid] = Entry{TID: tid, PID: pid, Name: name, Category: cat}
}

// Lookup returns the entry for tid.
func (r *Registry) Lookup(tid int64) (Entry, bool) {
	e, ok := r.entries[tid]
	return e, ok
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Entries returns all entries ordered by tid.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.TID, b.TID) })
	return out
}
