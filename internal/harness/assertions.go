package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/threads"
	"github.com/roach88/vmstate/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []TraceStep // Mutations touching the asserted path, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nMutations:\n")
		for _, step := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s @%d = %s\n", step.Seq, step.Kind, step.At, value.Format(step.Value))
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the finished session
// and returns one message per failure.
//
// An unexpected fatal error is itself a failure: a run that aborted passes
// only if some assertion names the fatal code.
func EvaluateAssertions(s *engine.Session, result *Result, assertions []Assertion) []string {
	var errs []string
	expectsFatal := false

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertStateAt:
			err = assertStateAt(s, result.Trace, a)
		case AssertIntervalCount:
			err = assertIntervalCount(s, result.Trace, a)
		case AssertNoAttribute:
			err = assertNoAttribute(s, a)
		case AssertRegistry:
			err = assertRegistry(s, a)
		case AssertFatal:
			expectsFatal = true
			err = assertFatal(result.Fatal, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	if result.Fatal != nil && !expectsFatal {
		errs = append(errs, fmt.Sprintf("unexpected fatal error: %v", result.Fatal))
	}
	return errs
}

// assertStateAt checks the value of a path at one instant.
// A path that was never created reads as absent.
func assertStateAt(s *engine.Session, trace []TraceStep, a Assertion) error {
	want, err := value.FromAny(a.Expect)
	if err != nil {
		return err
	}

	var got value.Value = value.Absent{}
	if h, ok := s.Tree().LookupAbsolute(a.Path...); ok {
		got = s.History().QueryAt(h, *a.At)
	}

	if !value.Equal(want, got) {
		return &AssertionError{
			Type:     AssertStateAt,
			Expected: fmt.Sprintf("%s @%d = %s", joinPath(a.Path), *a.At, value.Format(want)),
			Actual:   value.Format(got),
			Trace:    stepsFor(trace, a.Path),
		}
	}
	return nil
}

// assertIntervalCount checks how many intervals a path holds.
func assertIntervalCount(s *engine.Session, trace []TraceStep, a Assertion) error {
	count := 0
	if h, ok := s.Tree().LookupAbsolute(a.Path...); ok {
		count = len(s.History().Intervals(h))
	}

	if count != *a.Count {
		return &AssertionError{
			Type:     AssertIntervalCount,
			Expected: fmt.Sprintf("%d intervals on %s", *a.Count, joinPath(a.Path)),
			Actual:   fmt.Sprintf("%d intervals", count),
			Trace:    stepsFor(trace, a.Path),
		}
	}
	return nil
}

// assertNoAttribute checks that a path was never created.
func assertNoAttribute(s *engine.Session, a Assertion) error {
	if _, ok := s.Tree().LookupAbsolute(a.Path...); ok {
		return &AssertionError{
			Type:     AssertNoAttribute,
			Expected: fmt.Sprintf("no attribute at %s", joinPath(a.Path)),
			Actual:   "attribute exists",
		}
	}
	return nil
}

// assertRegistry checks a thread registry entry.
func assertRegistry(s *engine.Session, a Assertion) error {
	e, ok := s.Threads().Lookup(a.TID)
	if !ok {
		return &AssertionError{
			Type:     AssertRegistry,
			Expected: fmt.Sprintf("thread %d registered", a.TID),
			Actual:   "not registered",
		}
	}
	if a.Name != "" && e.Name != a.Name {
		return &AssertionError{
			Type:     AssertRegistry,
			Expected: fmt.Sprintf("thread %d named %q", a.TID, a.Name),
			Actual:   fmt.Sprintf("named %q", e.Name),
		}
	}
	if a.Category != "" && e.Category != threads.Category(a.Category) {
		return &AssertionError{
			Type:     AssertRegistry,
			Expected: fmt.Sprintf("thread %d in category %s", a.TID, a.Category),
			Actual:   fmt.Sprintf("category %s", e.Category),
		}
	}
	return nil
}

// assertFatal checks that the run aborted with the given code.
func assertFatal(fatal *engine.RuntimeError, a Assertion) error {
	if fatal == nil {
		return &AssertionError{
			Type:     AssertFatal,
			Expected: fmt.Sprintf("run aborted with %s", a.Code),
			Actual:   "run completed",
		}
	}
	if string(fatal.Code) != a.Code {
		return &AssertionError{
			Type:     AssertFatal,
			Expected: fmt.Sprintf("run aborted with %s", a.Code),
			Actual:   fmt.Sprintf("aborted with %s: %s", fatal.Code, fatal.Message),
		}
	}
	return nil
}

// stepsFor returns the mutations that wrote path, for failure context.
func stepsFor(trace []TraceStep, path []string) []TraceStep {
	var out []TraceStep
	for _, step := range trace {
		if joinPath(step.Path) == joinPath(path) {
			out = append(out, step)
		}
	}
	return out
}

func joinPath(path []string) string {
	return strings.Join(path, "/")
}
