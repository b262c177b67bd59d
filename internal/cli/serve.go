package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ticketsync/internal/clock"
	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/room"
	"github.com/roach88/ticketsync/internal/store"
	"github.com/roach88/ticketsync/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Run the WebSocket sync server.

Clients connect to /ws, join a project room and exchange ticket events.
/up answers health checks. Flags override the config file and the
TICKETSYNC_* environment.

Example:
  ticketsync serve --addr :8080 --db ./board.db
  ticketsync serve --config ./ticketsync.cue --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.ListenAddr = opts.Addr
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	logger, err := opts.newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	logger.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	d := dispatch.New(room.NewRegistry(clock.Real()),
		dispatch.WithRepository(st),
		dispatch.WithLogger(logger),
		dispatch.WithOutboxLimit(cfg.OutboxSize),
	)
	srv := transport.NewServer(d,
		transport.WithServerLogger(logger),
		transport.WithMaxFrameBytes(cfg.MaxFrameBytes),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s (db %s). Press Ctrl-C to stop.\n", cfg.ListenAddr, cfg.DBPath)
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr, cfg.ShutdownTimeout); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
