package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ticketsync/internal/ticket"
)

func TestHistoryCommandText(t *testing.T) {
	db := seedDatabase(t)

	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", db, "t1"})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "by alice")
	assert.Contains(t, out, "moved")
	assert.Contains(t, out, "BACKLOG -> TODO")
	assert.Contains(t, out, "by bob (planned)")
}

func TestHistoryCommandJSON(t *testing.T) {
	db := seedDatabase(t)

	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", db, "t1"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   HistoryReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "t1", resp.Data.TicketID)
	require.Len(t, resp.Data.Entries, 2)
	assert.Equal(t, ticket.KindCreated, resp.Data.Entries[0].Kind)
	assert.Equal(t, ticket.KindMoved, resp.Data.Entries[1].Kind)
}

func TestHistoryCommandImportedTicketHasNoHistory(t *testing.T) {
	db := seedDatabase(t)

	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", db, "t2"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "No history for t2.\n", buf.String())
}

func TestHistoryCommandMissingDatabase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.db")

	cmd := NewHistoryCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", missing, "t1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, missing)
}

func TestHistoryCommandRequiresDB(t *testing.T) {
	cmd := NewHistoryCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"t1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}
