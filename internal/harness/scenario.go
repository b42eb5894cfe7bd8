package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/value"
)

// Scenario defines a replay test: a short trace and the state it must
// produce.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Layout is an optional CUE layout file, relative to the scenario file.
	// Empty means the default layout.
	Layout string `yaml:"layout,omitempty"`

	// SessionID pins the session id. Defaults to "test-session".
	SessionID string `yaml:"session_id,omitempty"`

	// Events are dispatched in order.
	Events []EventStep `yaml:"events"`

	// CloseAt, when set, seals every open interval at that time after the
	// last event.
	CloseAt *int64 `yaml:"close_at,omitempty"`

	// Assertions validate the resulting history.
	// Supported types: state_at, interval_count, no_attribute, registry, fatal
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one trace event.
type EventStep struct {
	// Kind is the event kind as it appears on the wire.
	Kind string `yaml:"kind"`

	// TS is the event timestamp.
	TS int64 `yaml:"ts"`

	// CPU is the CPU the event was recorded on, if any.
	CPU *int `yaml:"cpu,omitempty"`

	// Fields are keyed by wire field name. Values must be integers or
	// strings.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Event converts the step to a dispatchable event.
func (s EventStep) Event() (event.Event, error) {
	ev := event.Event{
		Kind:      s.Kind,
		Timestamp: s.TS,
		CPU:       event.NoCPU,
		Fields:    make(map[string]value.Value, len(s.Fields)),
	}
	if s.CPU != nil {
		ev.CPU = *s.CPU
	}
	for name, raw := range s.Fields {
		v, err := value.FromAny(raw)
		if err != nil {
			return event.Event{}, fmt.Errorf("field %q: %w", name, err)
		}
		ev.Fields[name] = v
	}
	return ev, nil
}

// Assertion validates the final history or the way the run ended.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state_at": Value of Path at time At equals Expect (null means absent)
	// - "interval_count": Path holds exactly Count intervals
	// - "no_attribute": Path was never created
	// - "registry": Thread TID is registered with Name and Category
	// - "fatal": The run aborted with error Code
	Type string `yaml:"type"`

	// Path is the attribute path (state_at, interval_count, no_attribute).
	Path []string `yaml:"path,omitempty"`

	// At is the query time (state_at).
	At *int64 `yaml:"at,omitempty"`

	// Expect is the expected value (state_at). Omitted or null means absent.
	Expect any `yaml:"expect,omitempty"`

	// Count is the expected number of intervals (interval_count).
	Count *int `yaml:"count,omitempty"`

	// TID identifies the thread (registry).
	TID int64 `yaml:"tid,omitempty"`

	// Name is the expected thread name (registry). Empty skips the check.
	Name string `yaml:"name,omitempty"`

	// Category is the expected thread category (registry). Empty skips the
	// check.
	Category string `yaml:"category,omitempty"`

	// Code is the expected runtime error code (fatal).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertStateAt       = "state_at"
	AssertIntervalCount = "interval_count"
	AssertNoAttribute   = "no_attribute"
	AssertRegistry      = "registry"
	AssertFatal         = "fatal"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative layout path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Layout != "" && !filepath.IsAbs(scenario.Layout) {
		scenario.Layout = filepath.Join(filepath.Dir(path), scenario.Layout)
	}
	if scenario.Layout != "" {
		if _, err := os.Stat(scenario.Layout); err != nil {
			return nil, fmt.Errorf("invalid scenario: layout file: %w", err)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML from memory.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Events {
		if step.Kind == "" {
			return fmt.Errorf("events[%d]: kind is required", i)
		}
		if _, err := step.Event(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStateAt:
		if len(a.Path) == 0 {
			return fmt.Errorf("assertions[%d]: path is required for state_at", index)
		}
		if a.At == nil {
			return fmt.Errorf("assertions[%d]: at is required for state_at", index)
		}
		if _, err := value.FromAny(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: expect: %w", index, err)
		}
	case AssertIntervalCount:
		if len(a.Path) == 0 {
			return fmt.Errorf("assertions[%d]: path is required for interval_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for interval_count", index)
		}
	case AssertNoAttribute:
		if len(a.Path) == 0 {
			return fmt.Errorf("assertions[%d]: path is required for no_attribute", index)
		}
	case AssertRegistry:
		if a.TID == 0 {
			return fmt.Errorf("assertions[%d]: tid is required for registry", index)
		}
	case AssertFatal:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for fatal", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
