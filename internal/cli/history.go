package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ticketsync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
}

// HistoryReport is the recorded history of one ticket.
type HistoryReport struct {
	TicketID string               `json:"ticketId"`
	Entries  []store.HistoryEntry `json:"entries"`
}

// RenderText prints one line per accepted mutation, oldest first.
func (r HistoryReport) RenderText(w io.Writer) error {
	if len(r.Entries) == 0 {
		_, err := fmt.Fprintf(w, "No history for %s.\n", r.TicketID)
		return err
	}
	for _, e := range r.Entries {
		line := fmt.Sprintf("%4d  %s  %-8s", e.Seq, e.RecordedAt.Format(time.RFC3339), e.Kind)
		if e.FromStatus != "" || e.ToStatus != "" {
			line += fmt.Sprintf("  %s -> %s", e.FromStatus, e.ToStatus)
		}
		if e.Actor != "" {
			line += "  by " + e.Actor
		}
		if e.Reason != "" {
			line += fmt.Sprintf(" (%s)", e.Reason)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <ticket-id>",
		Short: "Print the recorded mutations of a ticket",
		Long: `Print every accepted create, update, move and delete of a ticket,
with the acting user and the move reason.

Example:
  ticketsync history --db ./board.db 0191d3c2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, ticketID string, cmd *cobra.Command) error {
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.History(cmd.Context(), ticketID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}
	return opts.formatter(cmd).Success(HistoryReport{TicketID: ticketID, Entries: entries})
}

// openExisting opens a database that must already exist. store.Open alone
// would silently create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	return openDatabase(path)
}

func openDatabase(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
