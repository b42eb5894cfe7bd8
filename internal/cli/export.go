package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
	"github.com/spf13/cobra"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/store"
	"github.com/roach88/vmstate/internal/value"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Session  string
	Output   string
	Snappy   bool
}

// ExportResult summarizes an export.
type ExportResult struct {
	Session    string `json:"session"`
	Output     string `json:"output"`
	Attributes int    `json:"attributes"`
	Compressed bool   `json:"compressed"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored history as canonical JSON lines",
		Long: `Export a stored history as canonical JSON lines, one attribute per line:

  {"intervals":[[start,end,value],...],"path":[...]}

Open intervals have a null end. The output is compressed with snappy when
--snappy is set or the output file ends in .sz.

Examples:
  vmstate export --db ./vmstate.db --session s1 -o history.jsonl
  vmstate export --db ./vmstate.db --session s1 -o history.jsonl.sz`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&opts.Snappy, "snappy", false, "compress output with snappy")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	hist, err := st.ReadHistory(ctx, opts.Session)
	if err != nil {
		return p.storeError(err)
	}

	compress := opts.Snappy || strings.HasSuffix(opts.Output, event.SnappySuffix)
	result := ExportResult{
		Session:    opts.Session,
		Output:     opts.Output,
		Attributes: len(hist),
		Compressed: compress,
	}

	if opts.Output == "" {
		return writeHistory(cmd.OutOrStdout(), hist, compress)
	}

	f, err := os.Create(opts.Output)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output", err)
	}
	if err := writeHistory(f, hist, compress); err != nil {
		f.Close()
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if err := f.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	p.debugf("Exported %d attribute(s) to %s", result.Attributes, opts.Output)
	if p.json {
		return p.forSession(opts.Session).ok(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d attribute(s) to %s\n", result.Attributes, opts.Output)
	return nil
}

// writeHistory writes one canonical document per attribute.
func writeHistory(w io.Writer, hist []store.AttributeHistory, compress bool) error {
	var flush func() error
	if compress {
		sw := snappy.NewBufferedWriter(w)
		w, flush = sw, sw.Close
	} else {
		bw := bufio.NewWriter(w)
		w, flush = bw, bw.Flush
	}

	for _, a := range hist {
		line, err := value.MarshalCanonical(history.Document(a.Path, a.Intervals))
		if err != nil {
			return fmt.Errorf("export %s: %w", joinPath(a.Path), err)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return flush()
}
