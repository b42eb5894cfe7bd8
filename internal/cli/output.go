package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Fatal event, fingerprint mismatch, invalid trace or failed scenario
	ExitCommandError = 2 // Bad arguments, unreadable files, database errors
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional cause
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error returned by a command to a process exit code.
// Unwrapped store lookups are command errors; everything else that is not
// an ExitError (fatal replay errors included) exits with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, store.ErrNotFound) {
		return ExitCommandError
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope every command writes with --format json.
type CLIResponse struct {
	Status    string    `json:"status"` // "ok" or "error"
	Data      any       `json:"data,omitempty"`
	Error     *CLIError `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// CLIError is the error payload of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes used in CLIError.Code.
const (
	ErrCodeGeneric    = "E_GENERIC"
	ErrCodeReplay     = "E_REPLAY"
	ErrCodeMismatch   = "E_FINGERPRINT_MISMATCH"
	ErrCodeInvalid    = "E_INVALID_EVENTS"
	ErrCodeNotFound   = "E_NOT_FOUND"
	ErrCodeTestFailed = "E_TEST_FAILED"
)

// errorCode classifies err for a CLIError.
func errorCode(err error) string {
	var (
		decErr   *event.DecodeError
		fieldErr *event.FieldError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound
	case engine.IsFatal(err):
		return ErrCodeReplay
	case errors.As(err, &decErr), errors.As(err, &fieldErr):
		return ErrCodeInvalid
	default:
		return ErrCodeGeneric
	}
}

// writeJSON writes an indented response envelope.
func writeJSON(w io.Writer, response CLIResponse) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// printer writes results to the command's stdout in the selected format.
// Diagnostics go to stderr so JSON output stays parseable.
type printer struct {
	json    bool
	verbose bool
	session string
	out     io.Writer
	diag    io.Writer
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *printer {
	return &printer{
		json:    opts.Format == "json",
		verbose: opts.Verbose,
		out:     cmd.OutOrStdout(),
		diag:    cmd.ErrOrStderr(),
	}
}

// forSession returns a copy that tags JSON envelopes with a session id.
func (p *printer) forSession(id string) *printer {
	cp := *p
	cp.session = id
	return &cp
}

// ok writes data as a successful envelope, or with Println in text mode.
func (p *printer) ok(data any) error {
	if p.json {
		return writeJSON(p.out, CLIResponse{Status: "ok", Data: data, SessionID: p.session})
	}
	_, err := fmt.Fprintln(p.out, data)
	return err
}

// fail writes an error envelope, or an "Error [code]" line in text mode.
func (p *printer) fail(code, message string, details any) error {
	if p.json {
		return writeJSON(p.out, CLIResponse{
			Status:    "error",
			Error:     &CLIError{Code: code, Message: message, Details: details},
			SessionID: p.session,
		})
	}
	fmt.Fprintf(p.out, "Error [%s]: %s\n", code, message)
	if p.verbose && details != nil {
		fmt.Fprintf(p.out, "Details: %v\n", details)
	}
	return nil
}

// debugf writes a diagnostic line to stderr when --verbose is set.
func (p *printer) debugf(format string, args ...any) {
	if p.verbose {
		fmt.Fprintf(p.diag, format+"\n", args...)
	}
}

// storeError reports a failed store read. Unknown sessions and paths are
// printed as E_NOT_FOUND; both cases exit with ExitCommandError.
func (p *printer) storeError(err error) error {
	if !errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	if printErr := p.fail(errorCode(err), err.Error(), nil); printErr != nil {
		return printErr
	}
	return WrapExitError(ExitCommandError, "not found", err)
}
