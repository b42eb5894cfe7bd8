package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	Session  string
}

// VerifyResult holds the verification outcome.
type VerifyResult struct {
	Source   string `json:"source"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Match    bool   `json:"match"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [trace]",
		Short: "Verify that a history is reproducible",
		Long: `Verify that a state history is deterministic.

Given a trace file, replays it twice in independent sessions and compares
the history fingerprints. Given --db and --session, recomputes the
fingerprint of a stored history and compares it with the one recorded at
replay time.

Exit codes:
  0 - Fingerprints match
  1 - Fingerprints differ
  2 - Command error (file not found, unknown session, etc.)

Examples:
  vmstate verify trace.jsonl
  vmstate verify --db ./vmstate.db --session 0190c8e2-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Session, "session", "", "stored session to verify")

	return cmd
}

func runVerify(opts *VerifyOptions, args []string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	var (
		result VerifyResult
		err    error
	)
	switch {
	case len(args) == 1 && opts.Session == "":
		result, err = verifyTrace(ctx, opts, args[0], cmd)
	case len(args) == 0 && opts.Session != "" && opts.Database != "":
		result, err = verifyStored(ctx, opts)
	default:
		return NewExitError(ExitCommandError, "verify needs either a trace file or --db with --session")
	}
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return outputVerifyJSON(cmd.OutOrStdout(), result)
	}
	return outputVerifyText(cmd.OutOrStdout(), result)
}

// verifyTrace replays path twice and compares fingerprints.
func verifyTrace(ctx context.Context, opts *VerifyOptions, path string, cmd *cobra.Command) (VerifyResult, error) {
	lay, err := loadLayout(opts.RootOptions)
	if err != nil {
		return VerifyResult{}, err
	}

	first := engine.NewSession(
		engine.WithLayout(lay),
		engine.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())),
	)
	second := first.NewInstance()

	fingerprints := make([]string, 2)
	for i, s := range []*engine.Session{first, second} {
		fp, err := replayForFingerprint(ctx, s, path)
		if err != nil {
			return VerifyResult{}, err
		}
		fingerprints[i] = fp
	}

	return VerifyResult{
		Source:   path,
		Expected: fingerprints[0],
		Actual:   fingerprints[1],
		Match:    fingerprints[0] == fingerprints[1],
	}, nil
}

func replayForFingerprint(ctx context.Context, s *engine.Session, path string) (string, error) {
	src, err := event.OpenFile(path)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to open trace", err)
	}
	defer src.Close()

	if _, err := s.Replay(ctx, src); err != nil {
		return "", WrapExitError(ExitFailure, "replay aborted", err)
	}
	fp, err := s.Fingerprint()
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to fingerprint history", err)
	}
	return fp, nil
}

// verifyStored recomputes a stored session's fingerprint.
func verifyStored(ctx context.Context, opts *VerifyOptions) (VerifyResult, error) {
	st, err := openExistingStore(opts.Database)
	if err != nil {
		return VerifyResult{}, err
	}
	defer st.Close()

	recorded, computed, err := st.VerifySession(ctx, opts.Session)
	if errors.Is(err, store.ErrNotFound) {
		return VerifyResult{}, WrapExitError(ExitCommandError, "session not found", err)
	}
	if err != nil {
		return VerifyResult{}, WrapExitError(ExitCommandError, "failed to verify session", err)
	}

	return VerifyResult{
		Source:   opts.Session,
		Expected: recorded,
		Actual:   computed,
		Match:    recorded == computed,
	}, nil
}

func outputVerifyJSON(w io.Writer, result VerifyResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.Match {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeMismatch,
			Message: "history fingerprints differ",
		}
	}
	if err := writeJSON(w, response); err != nil {
		return err
	}
	if !result.Match {
		return NewExitError(ExitFailure, "history fingerprints differ")
	}
	return nil
}

func outputVerifyText(w io.Writer, result VerifyResult) error {
	fmt.Fprintf(w, "Source: %s\n", result.Source)
	fmt.Fprintf(w, "  Expected: %s\n", result.Expected)
	fmt.Fprintf(w, "  Actual:   %s\n", result.Actual)
	if result.Match {
		fmt.Fprintln(w, "✓ History verified deterministic")
		return nil
	}
	fmt.Fprintln(w, "✗ History fingerprints differ")
	return NewExitError(ExitFailure, "history fingerprints differ")
}
