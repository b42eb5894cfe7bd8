package harness

import (
	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/value"
)

// TraceStep is one applied mutation, in the order the session wrote it.
type TraceStep struct {
	Seq   int64       `json:"seq"`
	Kind  string      `json:"kind"`
	Path  []string    `json:"path"`
	At    int64       `json:"at"`
	Value value.Value `json:"value"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold and no unexpected fatal error occurred.
	Pass bool `json:"pass"`

	// Trace contains every applied mutation in order.
	Trace []TraceStep `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Summary holds the session counters after the last event.
	Summary engine.Summary `json:"summary"`

	// Fingerprint is the history fingerprint of the finished session.
	Fingerprint string `json:"fingerprint"`

	// Fatal is the error that aborted the run, if any.
	Fatal *engine.RuntimeError `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceStep{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace records an applied mutation.
func (r *Result) addTrace(a engine.Applied) {
	r.Trace = append(r.Trace, TraceStep{
		Seq:   a.Seq,
		Kind:  string(a.Kind),
		Path:  a.Path,
		At:    a.At,
		Value: a.Value,
	})
}
