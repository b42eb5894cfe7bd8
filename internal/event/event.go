// Package event defines the trace events consumed by the dispatcher and a
// JSON-lines adapter for reading them from files.
//
// An event has a kind tag, a timestamp in trace time units, the CPU it was
// recorded on and a set of named fields. Field values are state values:
// integers, strings, or Absent for a field that was recorded without a value.
package event

import (
	"fmt"
	"strconv"

	"github.com/roach88/vmstate/internal/value"
)

// NoCPU is the CPU of an event that carries no CPU information.
const NoCPU = -1

// Event is one decoded trace event.
type Event struct {
	Kind      string
	Timestamp int64
	CPU       int
	Fields    map[string]value.Value
}

// FieldError reports a field that is missing or has the wrong type.
// It is scoped to the one event that carried it.
type FieldError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("event %s: field %q %s", e.Kind, e.Field, e.Reason)
}

// Has reports whether the event carries a non-absent field called name.
func (e Event) Has(name string) bool {
	v, ok := e.Fields[name]
	return ok && !value.IsAbsent(v)
}

// Int returns an integer field.
func (e Event) Int(name string) (int64, error) {
	v, ok := e.Fields[name]
	if !ok || value.IsAbsent(v) {
		return 0, &FieldError{Kind: e.Kind, Field: name, Reason: "is missing"}
	}
	n, ok := v.(value.Int)
	if !ok {
		return 0, &FieldError{Kind: e.Kind, Field: name, Reason: fmt.Sprintf("is %s, want int", value.KindOf(v))}
	}
	return int64(n), nil
}

// Text returns a field rendered as a string. Integer fields are
// formatted in decimal.
func (e Event) Text(name string) (string, error) {
	v, ok := e.Fields[name]
	if !ok || value.IsAbsent(v) {
		return "", &FieldError{Kind: e.Kind, Field: name, Reason: "is missing"}
	}
	switch val := v.(type) {
	case value.Text:
		return string(val), nil
	case value.Int:
		return strconv.FormatInt(int64(val), 10), nil
	default:
		return "", &FieldError{Kind: e.Kind, Field: name, Reason: fmt.Sprintf("has unsupported type %T", v)}
	}
}

// RequireCPU returns the CPU of the event or a FieldError if it has none.
func (e Event) RequireCPU() (int, error) {
	if e.CPU < 0 {
		return 0, &FieldError{Kind: e.Kind, Field: "cpu", Reason: "is missing"}
	}
	return e.CPU, nil
}
