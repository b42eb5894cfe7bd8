package engine

import (
	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/value"
)

// Summary reports what a session has done so far.
type Summary struct {
	SessionID string `json:"session_id"`

	// Events counts every event handed to the session.
	Events int64 `json:"events"`
	// Ignored counts events of kinds no recipe handles.
	Ignored int64 `json:"ignored"`
	// Dropped counts events rejected for missing or ill-typed fields.
	Dropped int64 `json:"dropped"`
	// Malformed counts input lines that failed to decode.
	Malformed int64 `json:"malformed"`
	// SkippedStops counts stop-style writes to attributes that never existed.
	SkippedStops int64 `json:"skipped_stops"`

	Mutations  int64 `json:"mutations"`
	Attributes int   `json:"attributes"`
	Threads    int   `json:"threads"`

	FirstTimestamp int64 `json:"first_ts"`
	LastTimestamp  int64 `json:"last_ts"`
}

// Summary returns a snapshot of the session counters.
func (s *Session) Summary() Summary {
	sum := s.summary
	sum.Attributes = s.tree.Len()
	sum.Threads = s.reg.Len()
	return sum
}

// Snapshot returns the full history as a canonical document: one entry per
// mutated attribute in handle order, each listing [start, end, value]
// triples. Open intervals have a null end.
func (s *Session) Snapshot() []any {
	handles := s.hist.Handles()
	doc := make([]any, 0, len(handles))
	for _, h := range handles {
		doc = append(doc, history.Document(s.tree.Path(h), s.hist.Intervals(h)))
	}
	return doc
}

// Fingerprint hashes the snapshot. Replaying the same trace with the same
// layout yields the same fingerprint.
func (s *Session) Fingerprint() (string, error) {
	return value.Fingerprint(value.DomainHistory, s.Snapshot())
}
