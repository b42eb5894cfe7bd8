package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/gccodes"
	"github.com/roach88/vmstate/internal/layout"
)

// Issue codes reported by validate.
const (
	IssueMalformed     = "malformed"
	IssueMissingField  = "missing_field"
	IssueMissingCPU    = "missing_cpu"
	IssueUnknownGCCode = "unknown_gc_code"
	IssueOutOfOrder    = "out_of_order"
)

// ValidationIssue is one problem found in a trace file.
type ValidationIssue struct {
	Line    int    `json:"line"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results for one trace.
type ValidationResult struct {
	Trace   string            `json:"trace"`
	Valid   bool              `json:"valid"`
	Events  int64             `json:"events"`
	Ignored int64             `json:"ignored"`
	Issues  []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <trace>",
		Short: "Check a trace file without building a history",
		Long: `Check a trace file against the event layout without building a history.

Reports lines that fail to decode, events missing fields their kind reads,
scheduler events without a CPU, unknown GC codes and timestamps that go
backwards. Events of unrecognized kinds are counted as ignored.

Exit codes:
  0 - No issues
  1 - At least one issue
  2 - Command error (file not found, bad layout, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	p := newPrinter(opts, cmd)

	lay, err := loadLayout(opts)
	if err != nil {
		return err
	}

	f, err := event.OpenFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace", err)
	}
	defer f.Close()

	p.debugf("Validating %s", path)
	result, err := validateEvents(f, lay)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	result.Trace = path

	if opts.Format == "json" {
		return outputValidateJSON(cmd.OutOrStdout(), result)
	}
	return outputValidateText(cmd.OutOrStdout(), result)
}

// validateEvents reads every event from f and collects issues. It only
// returns an error when the file itself cannot be read.
func validateEvents(f *event.File, lay *layout.Layout) (ValidationResult, error) {
	result := ValidationResult{Issues: []ValidationIssue{}}
	var (
		last    int64
		started bool
	)

	for {
		ev, err := f.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var decErr *event.DecodeError
		if errors.As(err, &decErr) {
			result.Issues = append(result.Issues, ValidationIssue{
				Line:    decErr.Line,
				Code:    IssueMalformed,
				Message: decErr.Err.Error(),
			})
			continue
		}
		if err != nil {
			return ValidationResult{}, err
		}

		result.Events++
		line := f.Line()

		if started && ev.Timestamp < last {
			result.Issues = append(result.Issues, ValidationIssue{
				Line:    line,
				Kind:    ev.Kind,
				Code:    IssueOutOfOrder,
				Message: fmt.Sprintf("timestamp %d is before %d", ev.Timestamp, last),
			})
		} else {
			last, started = ev.Timestamp, true
		}

		kind, ok := lay.Resolve(ev.Kind)
		if !ok {
			result.Ignored++
			continue
		}
		result.Issues = append(result.Issues, checkEvent(ev, kind, lay, line)...)
	}

	result.Valid = len(result.Issues) == 0
	return result, nil
}

// checkEvent reports the fields kind reads that ev does not carry.
func checkEvent(ev event.Event, kind layout.Kind, lay *layout.Layout, line int) []ValidationIssue {
	var issues []ValidationIssue
	for _, name := range lay.RequiredFields(kind) {
		if !ev.Has(name) {
			issues = append(issues, ValidationIssue{
				Line:    line,
				Kind:    ev.Kind,
				Field:   name,
				Code:    IssueMissingField,
				Message: fmt.Sprintf("field %q is missing", name),
			})
		}
	}

	switch kind {
	case layout.SchedSwitch:
		if _, err := ev.RequireCPU(); err != nil {
			issues = append(issues, ValidationIssue{
				Line:    line,
				Kind:    ev.Kind,
				Field:   "cpu",
				Code:    IssueMissingCPU,
				Message: "scheduler event has no cpu",
			})
		}
	case layout.ReportGCStart, layout.ReportGCEnd:
		code, err := ev.Int(lay.Fields.GCCode)
		if err == nil && !gccodes.Known(code) {
			issues = append(issues, ValidationIssue{
				Line:    line,
				Kind:    ev.Kind,
				Field:   lay.Fields.GCCode,
				Code:    IssueUnknownGCCode,
				Message: fmt.Sprintf("gc code %d is not in the code table", code),
			})
		}
	}
	return issues
}

func outputValidateJSON(w io.Writer, result ValidationResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.Valid {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeInvalid,
			Message: fmt.Sprintf("%d issue(s) found", len(result.Issues)),
			Details: result.Issues,
		}
	}
	if err := writeJSON(w, response); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func outputValidateText(w io.Writer, result ValidationResult) error {
	fmt.Fprintf(w, "%s: %d event(s), %d ignored\n", result.Trace, result.Events, result.Ignored)
	if result.Valid {
		fmt.Fprintln(w, "✓ Trace is valid")
		return nil
	}

	for _, issue := range result.Issues {
		if issue.Kind != "" {
			fmt.Fprintf(w, "  line %d [%s] %s: %s\n", issue.Line, issue.Code, issue.Kind, issue.Message)
		} else {
			fmt.Fprintf(w, "  line %d [%s] %s\n", issue.Line, issue.Code, issue.Message)
		}
	}
	fmt.Fprintf(w, "✗ %d issue(s) found\n", len(result.Issues))
	return NewExitError(ExitFailure, "validation failed")
}
