package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string // optional - persist histories here
	Jobs     int
	Seal     bool // close every interval just past the trace's last timestamp
	Replace  bool // overwrite a stored session with the same id

	// IDGenerator allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.SessionIDGenerator
}

// ReplayTraceResult holds the replay result for a single trace file.
type ReplayTraceResult struct {
	Trace string `json:"trace"`
	engine.Summary
	Fingerprint string `json:"fingerprint,omitempty"`
	Stored      bool   `json:"stored"`
	Error       string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Traces []ReplayTraceResult `json:"traces"`
	Total  int                 `json:"total"`
	Failed int                 `json:"failed"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <trace>...",
		Short: "Replay trace files into state histories",
		Long: `Replay one or more JSON-lines trace files into interval state histories.

Each trace is replayed by its own session; independent traces run in
parallel. Files ending in .sz are read as snappy-compressed streams. With
--db, every successfully replayed history is stored for query, dump,
export and serve.

Exit codes:
  0 - All traces replayed
  1 - At least one trace aborted on a fatal event
  2 - Command error (unreadable file, database error, etc.)

Examples:
  vmstate replay trace.jsonl
  vmstate replay --db ./vmstate.db a.jsonl b.jsonl.sz
  vmstate replay --db ./vmstate.db --replace trace.jsonl
  vmstate replay --layout hotspot.cue --format json trace.jsonl`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for storing histories")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "number of traces replayed in parallel")
	cmd.Flags().BoolVar(&opts.Seal, "seal", false, "close open intervals just past each trace's last timestamp")
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "overwrite a stored session with the same id")

	return cmd
}

func runReplay(opts *ReplayOptions, paths []string, cmd *cobra.Command) error {
	lay, err := loadLayout(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	ids := opts.IDGenerator
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}

	// Sessions are created up front so id generation stays sequential.
	sessions := make([]*engine.Session, len(paths))
	for i := range paths {
		sessions[i] = engine.NewSession(
			engine.WithLayout(lay),
			engine.WithLogger(logger),
			engine.WithIDGenerator(ids),
		)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	result := ReplayResult{
		Traces: make([]ReplayTraceResult, len(paths)),
		Total:  len(paths),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Jobs, 1))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			r, err := replayTrace(gctx, sessions[i], path, st, opts, logger)
			if err != nil {
				return err
			}
			result.Traces[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	for _, r := range result.Traces {
		if r.Error != "" {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd.OutOrStdout(), result)
	}
	return outputReplayText(cmd.OutOrStdout(), result, opts.Verbose)
}

// replayTrace replays one file. A fatal event is reported in the result;
// only I/O and storage failures are returned as errors.
func replayTrace(ctx context.Context, s *engine.Session, path string, st *store.Store, opts *ReplayOptions, logger *slog.Logger) (ReplayTraceResult, error) {
	src, err := event.OpenFile(path)
	if err != nil {
		return ReplayTraceResult{}, err
	}
	defer src.Close()

	logger.Debug("replaying trace", "trace", path, "session", s.ID())
	sum, replayErr := s.Replay(ctx, src)
	res := ReplayTraceResult{Trace: path, Summary: sum}
	if replayErr != nil {
		if !engine.IsFatal(replayErr) {
			return ReplayTraceResult{}, fmt.Errorf("%s: %w", path, replayErr)
		}
		res.Error = replayErr.Error()
		return res, nil
	}

	if opts.Seal {
		s.Seal()
	}

	fp, err := s.Fingerprint()
	if err != nil {
		return ReplayTraceResult{}, fmt.Errorf("%s: %w", path, err)
	}
	res.Fingerprint = fp

	if st != nil {
		rec := store.NewSessionRecord(filepath.Base(path), fp, sum)
		if opts.Replace {
			if err := st.DeleteSession(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return ReplayTraceResult{}, fmt.Errorf("%s: %w", path, err)
			}
		}
		if err := st.WriteSession(ctx, rec, s.Tree(), s.History()); err != nil {
			return ReplayTraceResult{}, fmt.Errorf("%s: %w", path, err)
		}
		res.Stored = true
	}
	return res, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(w io.Writer, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeReplay,
			Message: fmt.Sprintf("%d trace(s) aborted", result.Failed),
		}
	}

	if err := writeJSON(w, response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d trace(s) aborted", result.Failed))
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(w io.Writer, result ReplayResult, verbose bool) error {
	fmt.Fprintf(w, "Replay Summary: %d trace(s)\n", result.Total)
	fmt.Fprintln(w)

	for _, r := range result.Traces {
		status := "✓"
		if r.Error != "" {
			status = "✗"
		}

		fmt.Fprintf(w, "%s %s\n", status, r.Trace)
		fmt.Fprintf(w, "  Session: %s\n", r.SessionID)
		fmt.Fprintf(w, "  Events: %d (%d ignored, %d dropped, %d malformed)\n",
			r.Events, r.Ignored, r.Dropped, r.Malformed)

		if verbose {
			fmt.Fprintf(w, "  Mutations: %d\n", r.Mutations)
			fmt.Fprintf(w, "  Attributes: %d\n", r.Attributes)
			fmt.Fprintf(w, "  Threads: %d\n", r.Threads)
			fmt.Fprintf(w, "  Skipped stops: %d\n", r.SkippedStops)
			fmt.Fprintf(w, "  Time span: [%d, %d]\n", r.FirstTimestamp, r.LastTimestamp)
		}

		if r.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", r.Error)
		} else {
			fmt.Fprintf(w, "  Fingerprint: %s\n", r.Fingerprint)
		}
		if r.Stored {
			fmt.Fprintln(w, "  Stored: yes")
		}
		fmt.Fprintln(w)
	}

	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All traces replayed")
		return nil
	}

	fmt.Fprintf(w, "✗ %d trace(s) aborted\n", result.Failed)
	return NewExitError(ExitFailure, fmt.Sprintf("%d trace(s) aborted", result.Failed))
}
