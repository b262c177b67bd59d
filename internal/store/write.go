package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// ErrDuplicate is returned by CreateTicket when the id is already taken.
var ErrDuplicate = errors.New("ticket already exists")

// ApplyTransition moves a ticket to mv.To at mv.NewPosition.
//
// The stored status must equal mv.From, otherwise *ticket.ConflictError is
// returned. A ticket outside mv.ProjectID is reported as ticket.ErrNotFound.
// When From and To differ the workflow machine is consulted again, so a
// caller that skipped validation still cannot persist an illegal move.
func (s *Store) ApplyTransition(ctx context.Context, mv dispatch.Transition) (ticket.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("apply transition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	current, err := getTicketTx(ctx, tx, mv.TicketID, mv.ProjectID)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if current.Status != mv.From {
		return ticket.Ticket{}, &ticket.ConflictError{
			TicketID: mv.TicketID,
			Expected: mv.From,
			Actual:   current.Status,
		}
	}
	if mv.From != mv.To {
		if err := workflow.Validate(mv.From, mv.To); err != nil {
			return ticket.Ticket{}, err
		}
	}

	now := s.clock.Now()
	next := ticket.Touch(ticket.MovePatch(mv.To, mv.NewPosition).Apply(current), now)
	if _, err := tx.ExecContext(ctx, `
		UPDATE tickets SET status = ?, position = ?, updated_at = ?
		WHERE id = ?
	`, string(next.Status), next.Position, formatTime(next.UpdatedAt), next.ID); err != nil {
		return ticket.Ticket{}, fmt.Errorf("apply transition: %w", err)
	}

	payload, err := marshalJSON(map[string]int{"newPosition": mv.NewPosition})
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("apply transition: %w", err)
	}
	if err := appendHistory(ctx, tx, historyRow{
		TicketID:   next.ID,
		ProjectID:  next.ProjectID,
		Kind:       ticket.KindMoved,
		FromStatus: mv.From,
		ToStatus:   mv.To,
		Actor:      mv.Actor,
		Reason:     mv.Reason,
		Payload:    payload,
		RecordedAt: now,
	}); err != nil {
		return ticket.Ticket{}, err
	}

	if err := tx.Commit(); err != nil {
		return ticket.Ticket{}, fmt.Errorf("apply transition: commit: %w", err)
	}
	return next, nil
}

// CreateTicket inserts t as given. The caller assigns id and timestamps.
// Returns ErrDuplicate if the id exists.
func (s *Store) CreateTicket(ctx context.Context, t ticket.Ticket, actor string) (ticket.Ticket, error) {
	if err := t.Validate(); err != nil {
		return ticket.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("create ticket: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertTicket(ctx, tx, t); err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return ticket.Ticket{}, fmt.Errorf("create ticket %s: %w", t.ID, ErrDuplicate)
		}
		return ticket.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}

	payload, err := marshalJSON(t)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}
	if err := appendHistory(ctx, tx, historyRow{
		TicketID:   t.ID,
		ProjectID:  t.ProjectID,
		Kind:       ticket.KindCreated,
		ToStatus:   t.Status,
		Actor:      actor,
		Payload:    payload,
		RecordedAt: s.clock.Now(),
	}); err != nil {
		return ticket.Ticket{}, err
	}

	if err := tx.Commit(); err != nil {
		return ticket.Ticket{}, fmt.Errorf("create ticket: commit: %w", err)
	}
	return t.Clone(), nil
}

// UpdateTicket applies p to the stored ticket. A status change in p must be
// a legal workflow transition from the stored status.
func (s *Store) UpdateTicket(ctx context.Context, ticketID, projectID string, p ticket.Patch, actor string) (ticket.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("update ticket: begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := getTicketTx(ctx, tx, ticketID, projectID)
	if err != nil {
		return ticket.Ticket{}, err
	}
	var from, to workflow.Status
	if p.Status != nil && *p.Status != current.Status {
		from, to = current.Status, *p.Status
		if err := workflow.Validate(from, to); err != nil {
			return ticket.Ticket{}, err
		}
	}

	now := s.clock.Now()
	next := ticket.Touch(p.Apply(current), now)
	if err := next.Validate(); err != nil {
		return ticket.Ticket{}, fmt.Errorf("update ticket: %w", err)
	}
	labels, err := marshalLabels(next.Labels)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tickets
		SET title = ?, description = ?, priority = ?, labels = ?, complexity = ?,
		    position = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		next.Title,
		next.Description,
		next.Priority,
		labels,
		next.Complexity,
		next.Position,
		string(next.Status),
		formatTime(next.UpdatedAt),
		next.ID,
	); err != nil {
		return ticket.Ticket{}, fmt.Errorf("update ticket: %w", err)
	}

	payload, err := marshalJSON(p)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("update ticket: %w", err)
	}
	if err := appendHistory(ctx, tx, historyRow{
		TicketID:   next.ID,
		ProjectID:  next.ProjectID,
		Kind:       ticket.KindUpdated,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Payload:    payload,
		RecordedAt: now,
	}); err != nil {
		return ticket.Ticket{}, err
	}

	if err := tx.Commit(); err != nil {
		return ticket.Ticket{}, fmt.Errorf("update ticket: commit: %w", err)
	}
	return next, nil
}

// DeleteTicket removes a ticket. Its history is kept.
func (s *Store) DeleteTicket(ctx context.Context, ticketID, projectID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete ticket: begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := getTicketTx(ctx, tx, ticketID, projectID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, ticketID); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if err := appendHistory(ctx, tx, historyRow{
		TicketID:   ticketID,
		ProjectID:  projectID,
		Kind:       ticket.KindDeleted,
		FromStatus: current.Status,
		Actor:      actor,
		Payload:    "{}",
		RecordedAt: s.clock.Now(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete ticket: commit: %w", err)
	}
	return nil
}

// ImportTickets upserts tickets without recording history. Used to seed a
// board from an export file.
func (s *Store) ImportTickets(ctx context.Context, tickets []ticket.Ticket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("import tickets: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tickets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("import ticket %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, t.ID); err != nil {
			return fmt.Errorf("import ticket %s: %w", t.ID, err)
		}
		if err := insertTicket(ctx, tx, t); err != nil {
			return fmt.Errorf("import ticket %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("import tickets: commit: %w", err)
	}
	return nil
}

func insertTicket(ctx context.Context, tx *sql.Tx, t ticket.Ticket) error {
	labels, err := marshalLabels(t.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets
		(id, project_id, title, description, priority, labels, complexity, position, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.ProjectID,
		t.Title,
		t.Description,
		t.Priority,
		labels,
		t.Complexity,
		t.Position,
		string(t.Status),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	return err
}
