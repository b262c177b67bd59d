package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/ticketsync/internal/testutil"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// createTestStore creates a new store in a temp dir with a fake clock.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clk))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// createTestTicket creates a ticket with minimal required fields.
func createTestTicket(id, projectID string, status workflow.Status, position int) ticket.Ticket {
	return ticket.Ticket{
		ID:        id,
		ProjectID: projectID,
		Title:     "Ticket " + id,
		Status:    status,
		Position:  position,
		CreatedAt: testutil.Epoch,
		UpdatedAt: testutil.Epoch,
	}
}
