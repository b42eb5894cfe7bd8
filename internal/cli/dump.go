package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/vmstate/internal/api"
	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/store"
	"github.com/roach88/vmstate/internal/value"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
	Session  string
	Prefix   string
}

// DumpAttribute is one attribute and its intervals in dump output.
type DumpAttribute struct {
	Path      []string               `json:"path"`
	Intervals []api.IntervalResponse `json:"intervals"`
}

// DumpResult is the dump of one stored session.
type DumpResult struct {
	Session    store.SessionRecord `json:"session"`
	Attributes []DumpAttribute     `json:"attributes"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a stored history",
		Long: `Print every attribute of a stored session with its intervals, or with
--session omitted, list the stored sessions.

Examples:
  vmstate dump --db ./vmstate.db
  vmstate dump --db ./vmstate.db --session s1
  vmstate dump --db ./vmstate.db --session s1 --prefix CPUs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only attributes under this path")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if opts.Session == "" {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return p.storeError(err)
		}
		if p.json {
			return p.ok(sessions)
		}
		return outputSessionsText(cmd.OutOrStdout(), sessions)
	}

	var prefix []string
	if opts.Prefix != "" {
		if prefix, err = api.ParsePath(opts.Prefix); err != nil {
			return WrapExitError(ExitCommandError, "invalid prefix", err)
		}
	}

	rec, err := st.ReadSession(ctx, opts.Session)
	if err != nil {
		return p.storeError(err)
	}
	hist, err := st.ReadHistory(ctx, opts.Session)
	if err != nil {
		return p.storeError(err)
	}

	result := DumpResult{Session: rec, Attributes: []DumpAttribute{}}
	for _, a := range hist {
		if !hasPrefix(a.Path, prefix) {
			continue
		}
		result.Attributes = append(result.Attributes, DumpAttribute{
			Path:      a.Path,
			Intervals: api.ToIntervalResponses(a.Intervals),
		})
	}

	if p.json {
		return p.forSession(rec.ID).ok(result)
	}
	return outputDumpText(cmd.OutOrStdout(), rec, hist, prefix)
}

func hasPrefix(path, prefix []string) bool {
	return len(path) >= len(prefix) && slices.Equal(path[:len(prefix)], prefix)
}

func outputSessionsText(w io.Writer, sessions []store.SessionRecord) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No stored sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %d event(s)  %d mutation(s)  [%d, %d]\n",
			s.ID, s.Source, s.Events, s.Mutations, s.FirstTimestamp, s.LastTimestamp)
	}
	return nil
}

func outputDumpText(w io.Writer, rec store.SessionRecord, hist []store.AttributeHistory, prefix []string) error {
	fmt.Fprintf(w, "Session: %s (%s)\n", rec.ID, rec.Source)
	fmt.Fprintf(w, "Fingerprint: %s\n", rec.Fingerprint)
	for _, a := range hist {
		if !hasPrefix(a.Path, prefix) {
			continue
		}
		fmt.Fprintln(w, joinPath(a.Path))
		for _, iv := range a.Intervals {
			fmt.Fprintf(w, "  %s = %s\n", formatSpan(iv), value.Format(iv.Value))
		}
	}
	return nil
}

func formatSpan(iv history.Interval) string {
	if iv.IsOpen() {
		return fmt.Sprintf("[%d, open)", iv.Start)
	}
	return fmt.Sprintf("[%d, %d)", iv.Start, iv.End)
}
