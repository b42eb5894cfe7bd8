package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vmstate/internal/value"
)

// goldenDir holds one <scenario>.golden file per scenario, relative to the
// package under test.
const goldenDir = "testdata/golden"

// canonical renders a step with the golden file's key set.
func (s TraceStep) canonical() map[string]any {
	return map[string]any{
		"seq":   s.Seq,
		"kind":  s.Kind,
		"path":  s.Path,
		"at":    s.At,
		"value": s.Value,
	}
}

// goldenDocument is the value a golden file stores: the scenario name, the
// session id, every applied mutation and, for aborted runs, the fatal code.
func goldenDocument(name string, result *Result) map[string]any {
	steps := make([]any, len(result.Trace))
	for i, step := range result.Trace {
		steps[i] = step.canonical()
	}
	doc := map[string]any{
		"scenario_name": name,
		"session_id":    result.Summary.SessionID,
		"trace":         steps,
	}
	if result.Fatal != nil {
		doc["fatal"] = string(result.Fatal.Code)
	}
	return doc
}

// RunWithGolden runs a scenario and checks its mutation trace against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GoldenBytes renders the canonical golden form of a result's trace.
func GoldenBytes(scenarioName string, result *Result) ([]byte, error) {
	data, err := value.MarshalCanonical(goldenDocument(scenarioName, result))
	if err != nil {
		return nil, fmt.Errorf("marshal golden trace for %s: %w", scenarioName, err)
	}
	return data, nil
}

// AssertGolden checks an existing result against its golden file. A
// mismatch fails t through goldie; the error covers marshalling only.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}
	goldie.New(t,
		goldie.WithFixtureDir(goldenDir),
		goldie.WithNameSuffix(".golden"),
		goldie.WithDiffEngine(goldie.ColoredDiff),
	).Assert(t, scenarioName, data)
	return nil
}
