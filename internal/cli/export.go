package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/roach88/ticketsync/internal/reconcile"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// BoardColumn is one status column of an exported board.
type BoardColumn struct {
	Status  workflow.Status `json:"status"`
	Tickets []ticket.Ticket `json:"tickets"`
}

// BoardSnapshot is the export file format: a project's tickets grouped by
// status, columns in board order, tickets in position order.
type BoardSnapshot struct {
	ProjectID string        `json:"projectId"`
	Columns   []BoardColumn `json:"columns"`
}

// Tickets flattens the snapshot back into one list, column by column.
func (b BoardSnapshot) Tickets() []ticket.Ticket {
	var out []ticket.Ticket
	for _, col := range b.Columns {
		for _, t := range col.Tickets {
			if t.ProjectID == "" {
				t.ProjectID = b.ProjectID
			}
			out = append(out, t)
		}
	}
	return out
}

// NewBoardSnapshot groups tickets the same way a client board does.
func NewBoardSnapshot(projectID string, tickets []ticket.Ticket) BoardSnapshot {
	local := reconcile.NewStore()
	local.Set(tickets)
	board := reconcile.NewProjection(local)
	defer board.Close()

	cols := board.Columns()
	snap := BoardSnapshot{ProjectID: projectID, Columns: make([]BoardColumn, 0, len(cols))}
	for _, s := range workflow.AllStatuses() {
		snap.Columns = append(snap.Columns, BoardColumn{Status: s, Tickets: cols[s]})
	}
	return snap
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Project  string
	Out      string
}

// ExportSummary reports what export wrote.
type ExportSummary struct {
	ProjectID string `json:"projectId"`
	Tickets   int    `json:"tickets"`
	Path      string `json:"path"`
}

func (s ExportSummary) String() string {
	return fmt.Sprintf("Exported %d tickets of %s to %s", s.Tickets, s.ProjectID, s.Path)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a project's board as JSON",
		Long: `Write a snapshot of a project's tickets grouped by status.

With --out the file is replaced atomically; without it the snapshot is
printed to stdout.

Example:
  ticketsync export --db ./board.db --project P1 --out p1.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project to export (required)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	tickets, err := st.ListProject(cmd.Context(), opts.Project)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list tickets", err)
	}
	data, err := json.MarshalIndent(NewBoardSnapshot(opts.Project, tickets), "", "  ")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode snapshot", err)
	}
	data = append(data, '\n')

	if opts.Out == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := atomic.WriteFile(opts.Out, bytes.NewReader(data)); err != nil {
		return WrapExitError(ExitFailure, "failed to write snapshot", err)
	}
	return opts.formatter(cmd).Success(ExportSummary{
		ProjectID: opts.Project,
		Tickets:   len(tickets),
		Path:      opts.Out,
	})
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
}

// ImportSummary reports what import loaded.
type ImportSummary struct {
	ProjectID string `json:"projectId"`
	Tickets   int    `json:"tickets"`
}

func (s ImportSummary) String() string {
	return fmt.Sprintf("Imported %d tickets into %s", s.Tickets, s.ProjectID)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Load an exported board into a database",
		Long: `Upsert the tickets of an export snapshot. Existing tickets with the
same id are replaced; no history is recorded. The database is created if
it does not exist.

Example:
  ticketsync import --db ./board.db p1.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}

	st, err := openDatabase(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	tickets := snap.Tickets()
	opts.formatter(cmd).VerboseLog("Importing %d tickets into %s", len(tickets), opts.Database)
	if err := st.ImportTickets(cmd.Context(), tickets); err != nil {
		return WrapExitError(ExitFailure, "failed to import tickets", err)
	}
	return opts.formatter(cmd).Success(ImportSummary{ProjectID: snap.ProjectID, Tickets: len(tickets)})
}

func readSnapshot(path string) (BoardSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return BoardSnapshot{}, WrapExitError(ExitCommandError, "failed to open snapshot", err)
	}
	defer f.Close()

	var snap BoardSnapshot
	dec := json.NewDecoder(io.LimitReader(f, 64<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return BoardSnapshot{}, WrapExitError(ExitCommandError, "invalid snapshot", err)
	}
	if snap.ProjectID == "" {
		return BoardSnapshot{}, NewExitError(ExitCommandError, "invalid snapshot: projectId is required")
	}
	return snap, nil
}
