package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/store"
	"github.com/roach88/ticketsync/internal/testutil"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

func testTicket(id string, status workflow.Status, position int) ticket.Ticket {
	return ticket.Ticket{
		ID:        id,
		ProjectID: "P1",
		Title:     "Ticket " + id,
		Status:    status,
		Position:  position,
		CreatedAt: testutil.Epoch,
		UpdatedAt: testutil.Epoch,
	}
}

// seedDatabase creates a database with t1 (created then moved to TODO), t2
// in BACKLOG and t3 in another project.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.db")
	st, err := store.Open(path, store.WithClock(testutil.NewFakeClock()))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	_, err = st.CreateTicket(ctx, testTicket("t1", workflow.Backlog, 0), "alice")
	require.NoError(t, err)
	_, err = st.ApplyTransition(ctx, dispatch.Transition{
		TicketID:  "t1",
		ProjectID: "P1",
		From:      workflow.Backlog,
		To:        workflow.Todo,
		Actor:     "bob",
		Reason:    "planned",
	})
	require.NoError(t, err)

	other := testTicket("t3", workflow.Review, 0)
	other.ProjectID = "P2"
	require.NoError(t, st.ImportTickets(ctx, []ticket.Ticket{
		testTicket("t2", workflow.Backlog, 1),
		other,
	}))
	return path
}

// syncBuffer is a bytes.Buffer safe to read while a command goroutine
// writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
