// Package history stores per-attribute value intervals.
//
// Each attribute handle owns an ordered run of intervals. A mutation at time
// t ends the open interval at t and starts a new one carrying the new value,
// so intervals of one handle never overlap and leave no gaps between the
// first and the last mutation. Two mutations of the same handle at the same
// instant collapse into one interval: the last write wins.
//
// Time must not go backwards per handle. A mutation earlier than the
// handle's latest mutation is rejected with *OrderingError before anything
// is changed.
//
// A Store has a single writer. Readers may run concurrently only once the
// writer has finished; reads racing the writer are not synchronized.
package history

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/roach88/vmstate/internal/attrtree"
	"github.com/roach88/vmstate/internal/value"
)

// Open marks the end of an interval that has not been closed yet.
const Open int64 = math.MaxInt64

// Interval is a value held by one handle over [Start, End).
type Interval struct {
	Handle attrtree.Handle
	Start  int64
	End    int64
	Value  value.Value
}

// IsOpen reports whether the interval is still the handle's current one.
func (iv Interval) IsOpen() bool {
	return iv.End == Open
}

// Contains reports whether t falls in [Start, End).
func (iv Interval) Contains(t int64) bool {
	return t >= iv.Start && t < iv.End
}

// OrderingError reports a mutation that would move a handle's time backwards.
type OrderingError struct {
	Handle attrtree.Handle
	Last   int64
	At     int64
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("ordering violation on handle %d: mutation at %d precedes last mutation at %d",
		e.Handle, e.At, e.Last)
}

// ErrClosed is returned by Mutate once the store has been closed.
var ErrClosed = errors.New("history is closed")

type track struct {
	closed  []Interval
	start   int64
	value   value.Value
	sealed  bool
	closeAt int64
}

// Store holds interval tracks keyed by handle.
type Store struct {
	tracks    map[attrtree.Handle]*track
	mutations int64
	first     int64
	last      int64
	sealed    bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tracks: make(map[attrtree.Handle]*track),
		first:  Open,
		last:   math.MinInt64,
	}
}

// Mutate sets h to v from time t onward.
func (s *Store) Mutate(h attrtree.Handle, t int64, v value.Value) error {
	if s.sealed {
		return fmt.Errorf("mutate handle %d at %d: %w", h, t, ErrClosed)
	}
	if v == nil {
		v = value.Absent{}
	}

	tr, ok := s.tracks[h]
	if !ok {
		s.tracks[h] = &track{start: t, value: v}
		s.touch(t)
		return nil
	}

	if t < tr.start {
		return &OrderingError{Handle: h, Last: tr.start, At: t}
	}

	if t == tr.start {
		tr.value = v
	} else {
		tr.closed = append(tr.closed, Interval{Handle: h, Start: tr.start, End: t, Value: tr.value})
		tr.start = t
		tr.value = v
	}
	s.touch(t)
	return nil
}

func (s *Store) touch(t int64) {
	s.mutations++
	if t < s.first {
		s.first = t
	}
	if t > s.last {
		s.last = t
	}
}

// QueryAt returns the value of h at time t.
// Before the first mutation of h, or for a handle never mutated, the result
// is Absent.
func (s *Store) QueryAt(h attrtree.Handle, t int64) value.Value {
	tr, ok := s.tracks[h]
	if !ok {
		return value.Absent{}
	}
	if t >= tr.start {
		if tr.sealed && t >= tr.end() {
			return value.Absent{}
		}
		return tr.value
	}
	i := sort.Search(len(tr.closed), func(i int) bool { return tr.closed[i].End > t })
	if i == len(tr.closed) || !tr.closed[i].Contains(t) {
		return value.Absent{}
	}
	return tr.closed[i].Value
}

// Intervals returns every interval of h in start order, the current one last.
func (s *Store) Intervals(h attrtree.Handle) []Interval {
	tr, ok := s.tracks[h]
	if !ok {
		return nil
	}
	out := make([]Interval, 0, len(tr.closed)+1)
	out = append(out, tr.closed...)
	return append(out, Interval{Handle: h, Start: tr.start, End: tr.end(), Value: tr.value})
}

// LastMutation returns the latest mutation time of h.
func (s *Store) LastMutation(h attrtree.Handle) (int64, bool) {
	tr, ok := s.tracks[h]
	if !ok {
		return 0, false
	}
	return tr.start, true
}

// Handles returns every mutated handle in ascending order.
func (s *Store) Handles() []attrtree.Handle {
	hs := make([]attrtree.Handle, 0, len(s.tracks))
	for h := range s.tracks {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// Mutations returns how many Mutate calls succeeded.
func (s *Store) Mutations() int64 {
	return s.mutations
}

// Span returns the earliest and latest mutation times seen by the store.
// ok is false for an empty store.
func (s *Store) Span() (first, last int64, ok bool) {
	if s.mutations == 0 {
		return 0, 0, false
	}
	return s.first, s.last, true
}

// Close ends every open interval at t, or at its own start when t is
// earlier. After Close, Mutate fails with ErrClosed for every handle, new
// or existing, and queries at or past a track's end return Absent.
func (s *Store) Close(t int64) {
	s.sealed = true
	for _, tr := range s.tracks {
		if tr.sealed {
			continue
		}
		tr.sealed = true
		tr.closeAt = max(t, tr.start)
	}
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	return s.sealed
}

func (tr *track) end() int64 {
	if tr.sealed {
		return tr.closeAt
	}
	return Open
}

// Document renders one attribute's intervals in canonical document form:
// {"path": [...], "intervals": [[start, end, value], ...]} with a null end
// for an open interval.
func Document(path []string, ivs []Interval) map[string]any {
	rows := make([]any, 0, len(ivs))
	for _, iv := range ivs {
		var end any
		if !iv.IsOpen() {
			end = iv.End
		}
		rows = append(rows, []any{iv.Start, end, iv.Value})
	}
	return map[string]any{
		"path":      path,
		"intervals": rows,
	}
}
