package dispatch

import (
	"context"

	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// Repository is the persistence collaborator. Implementations re-validate
// what they store and report:
//   - ticket.ErrNotFound for unknown ids
//   - *ticket.ConflictError when the stored status is not the caller's fromStatus
//   - *workflow.InvalidTransitionError for illegal status changes
//
// Any reported error rejects the mutation; nothing is broadcast.
type Repository interface {
	ApplyTransition(ctx context.Context, mv Transition) (ticket.Ticket, error)
	CreateTicket(ctx context.Context, t ticket.Ticket, actor string) (ticket.Ticket, error)
	UpdateTicket(ctx context.Context, ticketID, projectID string, p ticket.Patch, actor string) (ticket.Ticket, error)
	DeleteTicket(ctx context.Context, ticketID, projectID, actor string) error

	// ListProject returns a project's tickets for the join ack.
	ListProject(ctx context.Context, projectID string) ([]ticket.Ticket, error)
}

// Transition is a validated move handed to Repository.ApplyTransition.
type Transition struct {
	TicketID    string
	ProjectID   string
	From        workflow.Status
	To          workflow.Status
	NewPosition int
	Actor       string
	Reason      string
}
