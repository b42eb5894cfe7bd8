package cli

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/vmstate/internal/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored histories over HTTP",
		Long: `Serve stored histories over a read-only HTTP API.

Routes:
  GET /healthz
  GET /metrics
  GET /sessions
  GET /sessions/:id
  GET /sessions/:id/attributes?prefix=
  GET /sessions/:id/state?path=&at=
  GET /sessions/:id/intervals?path=

Examples:
  vmstate serve --db ./vmstate.db
  vmstate serve --db ./vmstate.db --addr 127.0.0.1:9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	srv := api.NewServer(st, newLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err := srv.ListenAndServe(ctx, opts.Addr); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
