package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// HistoryEntry is one accepted mutation from the ticket_history table.
type HistoryEntry struct {
	Seq        int64            `json:"seq"`
	TicketID   string           `json:"ticketId"`
	ProjectID  string           `json:"projectId"`
	Kind       ticket.EventKind `json:"kind"`
	FromStatus workflow.Status  `json:"fromStatus,omitempty"`
	ToStatus   workflow.Status  `json:"toStatus,omitempty"`
	Actor      string           `json:"actor,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Payload    json.RawMessage  `json:"payload"`
	RecordedAt time.Time        `json:"recordedAt"`
}

type historyRow struct {
	TicketID   string
	ProjectID  string
	Kind       ticket.EventKind
	FromStatus workflow.Status
	ToStatus   workflow.Status
	Actor      string
	Reason     string
	Payload    string
	RecordedAt time.Time
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const ticketColumns = `id, project_id, title, description, priority, labels, complexity, position, status, created_at, updated_at`

// GetTicket returns the ticket with the given id, or ticket.ErrNotFound.
func (s *Store) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	return getTicket(ctx, s.db, id, "")
}

// getTicketTx reads a ticket inside tx. A non-empty projectID must match the
// stored project, otherwise the ticket is reported as not found.
func getTicketTx(ctx context.Context, tx *sql.Tx, id, projectID string) (ticket.Ticket, error) {
	return getTicket(ctx, tx, id, projectID)
}

func getTicket(ctx context.Context, q rowQuerier, id, projectID string) (ticket.Ticket, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, fmt.Errorf("ticket %s: %w", id, ticket.ErrNotFound)
	}
	if err != nil {
		return ticket.Ticket{}, err
	}
	if projectID != "" && t.ProjectID != projectID {
		return ticket.Ticket{}, fmt.Errorf("ticket %s in project %s: %w", id, projectID, ticket.ErrNotFound)
	}
	return t, nil
}

// ListProject returns a project's tickets ordered by position, then id.
//
// Returns an empty slice (not nil) if the project has no tickets.
func (s *Store) ListProject(ctx context.Context, projectID string) ([]ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE project_id = ?
		ORDER BY position ASC, id COLLATE BINARY ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	tickets := []ticket.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, nil
}

// Projects lists the distinct project ids that have tickets, sorted.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT project_id FROM tickets ORDER BY project_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// History returns every recorded mutation of a ticket, ordered by seq.
// Deleted tickets keep their history.
func (s *Store) History(ctx context.Context, ticketID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, ticket_id, project_id, kind, from_status, to_status, actor, reason, payload, recorded_at
		FROM ticket_history
		WHERE ticket_id = ?
		ORDER BY seq ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			e                       HistoryEntry
			kind, from, to, payload string
			recordedAt              string
		)
		if err := rows.Scan(&e.Seq, &e.TicketID, &e.ProjectID, &kind, &from, &to, &e.Actor, &e.Reason, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Kind = ticket.EventKind(kind)
		e.FromStatus = workflow.Status(from)
		e.ToStatus = workflow.Status(to)
		e.Payload = json.RawMessage(payload)
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func appendHistory(ctx context.Context, tx *sql.Tx, h historyRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ticket_history
		(ticket_id, project_id, kind, from_status, to_status, actor, reason, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.TicketID,
		h.ProjectID,
		string(h.Kind),
		string(h.FromStatus),
		string(h.ToStatus),
		h.Actor,
		h.Reason,
		h.Payload,
		formatTime(h.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func scanTicket(row rowScanner) (ticket.Ticket, error) {
	var (
		t                    ticket.Ticket
		status, labels       string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&t.Priority,
		&labels,
		&t.Complexity,
		&t.Position,
		&status,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, err
	}
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("scan ticket: %w", err)
	}

	t.Status = workflow.Status(status)
	if t.Labels, err = unmarshalLabels(labels); err != nil {
		return ticket.Ticket{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return ticket.Ticket{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ticket.Ticket{}, err
	}
	return t, nil
}
