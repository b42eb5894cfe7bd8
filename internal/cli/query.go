package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vmstate/internal/api"
	"github.com/roach88/vmstate/internal/store"
	"github.com/roach88/vmstate/internal/value"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Database string
	Session  string
	Path     string
	At       int64
}

// QueryResult is the value of one attribute at one timestamp.
type QueryResult struct {
	Path  []string    `json:"path"`
	At    int64       `json:"at"`
	Kind  value.Kind  `json:"kind"`
	Value value.Value `json:"value"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up an attribute's value at a timestamp",
		Long: `Look up the value an attribute held at a timestamp in a stored history.

The path is slash separated ("Threads/1/status") or a JSON array of
segments for names that contain slashes. An attribute that had no value
at the timestamp reports an absent value.

Examples:
  vmstate query --db ./vmstate.db --session 0190c8e2-... --path Threads/1/status --at 150
  vmstate query --db ./vmstate.db --session s1 --path '["Threads","1","Monitor Name"]' --at 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (required)")
	cmd.Flags().StringVar(&opts.Path, "path", "", "attribute path (required)")
	cmd.Flags().Int64Var(&opts.At, "at", 0, "timestamp to query")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd)

	path, err := api.ParsePath(opts.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid path", err)
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	v, err := st.QueryAt(ctx, opts.Session, path, opts.At)
	if err != nil {
		return p.storeError(err)
	}

	result := QueryResult{Path: path, At: opts.At, Kind: value.KindOf(v), Value: v}
	if p.json {
		return p.forSession(opts.Session).ok(result)
	}
	return outputQueryText(cmd.OutOrStdout(), result)
}

func outputQueryText(w io.Writer, result QueryResult) error {
	fmt.Fprintf(w, "%s @ %d = %s\n", joinPath(result.Path), result.At, value.Format(result.Value))
	return nil
}

// openExistingStore opens a database read-only. A missing --db file is a
// command error rather than a fresh empty database.
func openExistingStore(path string) (*store.Store, error) {
	if err := requireFile(path); err != nil {
		return nil, err
	}
	st, err := store.Open(path, store.ReadOnly())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
