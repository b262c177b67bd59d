package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/reconcile"
	"github.com/roach88/ticketsync/internal/transport"
	"github.com/roach88/ticketsync/internal/workflow"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	URL     string
	Origin  string
	Project string
	User    string
	Name    string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a project room and print board changes",
		Long: `Connect to a sync server as a board client, join a project room and
print presence changes and the per-status ticket counts of the local board
whenever they change.

Example:
  ticketsync watch --url ws://localhost:8080/ws --project P1 --user alice`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "WebSocket endpoint")
	cmd.Flags().StringVar(&opts.Origin, "origin", "http://localhost/", "Origin header for the handshake")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project room to join (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user id announced to the room")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name announced to the room")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

// lockedWriter serialises output from the client's read loop and the
// command goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	local := reconcile.NewStore(
		reconcile.WithRollbackTimeout(cfg.RollbackTimeout),
		reconcile.WithSweepInterval(cfg.SweepInterval),
		reconcile.WithLogger(logger),
	)

	header := http.Header{}
	if opts.User != "" {
		header.Set(transport.HeaderUserID, opts.User)
	}
	if opts.Name != "" {
		header.Set(transport.HeaderUserName, opts.Name)
	}

	client, err := transport.Dial(ctx, opts.URL, opts.Origin, header, local,
		transport.WithClientLogger(logger),
		transport.WithPresence(func(name string, p dispatch.Presence) {
			out.printf("%s %s\n", name, p.UserID)
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer client.Close()

	members, err := client.Join(ctx, opts.Project)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to join project", err)
	}
	out.printf("Joined %s (%d members)\n", opts.Project, len(members))

	board := reconcile.NewProjection(local)
	defer board.Close()
	unsubscribe := board.Subscribe(func(cols reconcile.Columns) {
		out.printf("board: %s\n", summarize(cols))
	})
	defer unsubscribe()

	go local.Run(ctx)

	select {
	case <-ctx.Done():
	case <-client.Done():
		logger.Warn("connection closed by server")
	}
	return nil
}

// summarize renders the non-empty columns as "STATUS:count", in board order.
func summarize(cols reconcile.Columns) string {
	var parts []string
	for _, s := range workflow.AllStatuses() {
		if n := len(cols[s]); n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", s, n))
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " ")
}
