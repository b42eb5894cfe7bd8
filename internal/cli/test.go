package cli

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/vmstate/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // rewrite golden traces instead of comparing
	Filter string // glob matched against the scenario file name without extension
	Jobs   int
}

// Golden trace outcomes reported per scenario. An empty Golden field means
// the scenario has no golden file.
const (
	goldenMatched  = "matched"
	goldenMismatch = "mismatch"
	goldenUpdated  = "updated"
)

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name        string   `json:"name"`
	File        string   `json:"file"`
	Pass        bool     `json:"pass"`
	Events      int64    `json:"events"`
	Mutations   int      `json:"mutations"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Golden      string   `json:"golden,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// TestResult aggregates every scenario in run order.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario conformance tests",
		Long: `Run YAML replay scenarios and check their assertions.

Each scenario feeds its events through a fresh session and checks state,
interval, registry and fatal-error assertions. When golden/<name>.golden
exists next to a scenario, the mutation trace must match it byte for byte.
Scenarios are independent and run in parallel; results are reported in
file order.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  vmstate test ./scenarios
  vmstate test ./scenarios --filter "gc_*"
  vmstate test ./scenarios --update
  vmstate test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only scenarios whose file name matches this glob")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "number of scenarios run in parallel")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, "scenarios directory not found: "+dir)
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	out := cmd.OutOrStdout()
	jsonOut := opts.Format == "json"
	if len(files) == 0 {
		if jsonOut {
			return outputTestJSON(out, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(out, "No scenarios found.")
		return nil
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, len(files)),
		Total:     len(files),
	}

	// runScenario never fails the group; each slot is written once.
	var g errgroup.Group
	g.SetLimit(max(opts.Jobs, 1))
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			result.Scenarios[i] = runScenario(file, opts.Update)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range result.Scenarios {
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if !jsonOut {
			reportScenario(out, r, opts.Verbose)
		}
	}

	if jsonOut {
		return outputTestJSON(out, result)
	}
	return outputTestText(out, result)
}

// findScenarioFiles walks dir for .yaml and .yml files, in lexical order.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name, ok := scenarioName(path)
		if !ok {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern %q: %w", filter, err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// scenarioName strips the YAML extension from a scenario file name.
func scenarioName(path string) (string, bool) {
	base := filepath.Base(path)
	for _, ext := range []string{".yaml", ".yml"} {
		if name, ok := strings.CutSuffix(base, ext); ok {
			return name, true
		}
	}
	return "", false
}

// goldenFilePath returns dir/golden/<name>.golden for a scenario file.
func goldenFilePath(scenarioFile string) string {
	name, ok := scenarioName(scenarioFile)
	if !ok {
		name = strings.TrimSuffix(filepath.Base(scenarioFile), filepath.Ext(scenarioFile))
	}
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// runScenario loads, runs and golden-checks one scenario file.
func runScenario(file string, update bool) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return res.fail("failed to load scenario: %v", err)
	}
	res.Name = scenario.Name

	run, err := harness.Run(scenario)
	if err != nil {
		return res.fail("execution failed: %v", err)
	}
	res.Pass = run.Pass
	res.Events = run.Summary.Events
	res.Mutations = len(run.Trace)
	res.Fingerprint = run.Fingerprint
	res.Errors = run.Errors

	trace, err := harness.GoldenBytes(scenario.Name, run)
	if err != nil {
		return res.fail("%v", err)
	}

	goldenPath := goldenFilePath(file)
	if update {
		if err := writeGolden(goldenPath, trace); err != nil {
			return res.fail("failed to update golden file: %v", err)
		}
		res.Golden = goldenUpdated
		return res
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case os.IsNotExist(err):
		return res
	case err != nil:
		return res.fail("failed to read golden file: %v", err)
	case bytes.Equal(bytes.TrimSpace(want), trace):
		res.Golden = goldenMatched
		return res
	default:
		res.Golden = goldenMismatch
		return res.fail("trace does not match golden file (run with --update to regenerate)")
	}
}

// fail appends a formatted error and marks the scenario failed.
func (r ScenarioResult) fail(format string, args ...any) ScenarioResult {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	return r
}

func writeGolden(path string, trace []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, trace, 0644)
}

func reportScenario(w io.Writer, r ScenarioResult, verbose bool) {
	mark := "✓"
	if !r.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, r.Name)
	if verbose {
		fmt.Fprintf(w, "  %d event(s), %d mutation(s)\n", r.Events, r.Mutations)
		if r.Golden != "" {
			fmt.Fprintf(w, "  golden: %s\n", r.Golden)
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func testFailure(result TestResult) error {
	return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(w io.Writer, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}
	if err := writeJSON(w, response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return testFailure(result)
	}
	return nil
}

// outputTestText prints the summary after the per-scenario lines.
func outputTestText(w io.Writer, result TestResult) error {
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return testFailure(result)
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
