package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ticketsync/internal/store"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

func TestExportCommandStdout(t *testing.T) {
	db := seedDatabase(t)

	buf := &bytes.Buffer{}
	cmd := NewExportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", db, "--project", "P1"})

	require.NoError(t, cmd.Execute())

	var snap BoardSnapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.Equal(t, "P1", snap.ProjectID)
	require.Len(t, snap.Columns, len(workflow.AllStatuses()))

	byStatus := make(map[workflow.Status][]string)
	for _, col := range snap.Columns {
		require.NotNil(t, col.Tickets, "column %s", col.Status)
		for _, tk := range col.Tickets {
			byStatus[col.Status] = append(byStatus[col.Status], tk.ID)
		}
	}
	assert.Equal(t, map[workflow.Status][]string{
		workflow.Backlog: {"t2"},
		workflow.Todo:    {"t1"},
	}, byStatus)
	assert.Equal(t, workflow.Backlog, snap.Columns[0].Status)
}

func TestExportImportRoundTrip(t *testing.T) {
	db := seedDatabase(t)
	out := filepath.Join(t.TempDir(), "p1.json")

	buf := &bytes.Buffer{}
	export := NewExportCommand(&RootOptions{Format: "text"})
	export.SetOut(buf)
	export.SetArgs([]string{"--db", db, "--project", "P1", "--out", out})
	require.NoError(t, export.Execute())
	assert.Contains(t, buf.String(), "Exported 2 tickets of P1")
	require.FileExists(t, out)

	target := filepath.Join(t.TempDir(), "copy.db")
	buf.Reset()
	imp := NewImportCommand(&RootOptions{Format: "json"})
	imp.SetOut(buf)
	imp.SetArgs([]string{"--db", target, out})
	require.NoError(t, imp.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   ImportSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, ImportSummary{ProjectID: "P1", Tickets: 2}, resp.Data)

	ctx := context.Background()
	src, err := store.Open(db)
	require.NoError(t, err)
	defer src.Close()
	dst, err := store.Open(target)
	require.NoError(t, err)
	defer dst.Close()

	want, err := src.ListProject(ctx, "P1")
	require.NoError(t, err)
	got, err := dst.ListProject(ctx, "P1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("imported board mismatch (-want +got):\n%s", diff)
	}

	history, err := dst.History(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExportCommandMissingDatabase(t *testing.T) {
	cmd := NewExportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "nope.db"), "--project", "P1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not found")
}

func TestImportCommandInvalidSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "not json", content: "nope", errMsg: "invalid snapshot"},
		{name: "unknown field", content: `{"projectId":"P1","rows":[]}`, errMsg: "invalid snapshot"},
		{name: "no project", content: `{"columns":[]}`, errMsg: "projectId is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			in := filepath.Join(dir, "snap.json")
			require.NoError(t, os.WriteFile(in, []byte(tt.content), 0o644))

			cmd := NewImportCommand(&RootOptions{Format: "text"})
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetArgs([]string{"--db", filepath.Join(dir, "board.db"), in})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestBoardSnapshotTicketsFillsProject(t *testing.T) {
	tk := testTicket("t9", workflow.Todo, 0)
	tk.ProjectID = ""
	snap := BoardSnapshot{
		ProjectID: "P7",
		Columns:   []BoardColumn{{Status: workflow.Todo, Tickets: []ticket.Ticket{tk}}},
	}

	got := snap.Tickets()
	require.Len(t, got, 1)
	assert.Equal(t, "P7", got[0].ProjectID)
}
