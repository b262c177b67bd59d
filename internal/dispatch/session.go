package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/ticketsync/internal/room"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// Session is the handler set of one connection.
type Session struct {
	d      *Dispatcher
	conn   Conn
	outbox *Outbox
}

// Conn returns the connection context.
func (s *Session) Conn() Conn {
	return s.conn
}

// Outbox returns the queue of broadcasts addressed to this connection.
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// Handle routes a request to its handler. hasAck is false for requests that
// take no acknowledgement (room:leave).
func (s *Session) Handle(ctx context.Context, req Request) (ack Ack, hasAck bool) {
	switch r := Deref(req).(type) {
	case JoinRoom:
		return s.JoinRoom(ctx, r), true
	case LeaveRoom:
		s.LeaveRoom(ctx, r)
		return Ack{}, false
	case MoveTicket:
		return s.MoveTicket(ctx, r), true
	case CreateTicket:
		return s.CreateTicket(ctx, r), true
	case UpdateTicket:
		return s.UpdateTicket(ctx, r), true
	case DeleteTicket:
		return s.DeleteTicket(ctx, r), true
	default:
		return fail(newError(CodeInvalidPayload, fmt.Sprintf("unsupported request %T", req))), true
	}
}

// userID is what presence events report for this connection. Anonymous
// connections are identified by connection id.
func (s *Session) userID() string {
	if s.conn.UserID != "" {
		return s.conn.UserID
	}
	return s.conn.ID
}

// JoinRoom registers membership, returns the current member list and board,
// and tells the other members that this user arrived. Re-joining is
// idempotent and does not repeat the presence event.
//
// The board is read after membership is registered, so a mutation committed
// later reaches the joiner as a broadcast.
func (s *Session) JoinRoom(ctx context.Context, req JoinRoom) Ack {
	projectID := strings.TrimSpace(req.ProjectID)
	if projectID == "" {
		return s.reject(newError(CodeInvalidPayload, "projectId is required"), "")
	}

	joined := s.d.rooms.Join(projectID, s.conn.ID, room.Meta{
		UserID:      s.conn.UserID,
		DisplayName: s.conn.UserName,
	})

	var board []ticket.Ticket
	if s.d.repo != nil {
		tickets, err := s.d.repo.ListProject(ctx, projectID)
		if err != nil {
			if joined {
				s.d.rooms.Leave(projectID, s.conn.ID)
			}
			return s.reject(&Error{Code: CodeJoinFailed, Message: "failed to load board", Err: err}, projectID)
		}
		board = tickets
	}
	s.conn.CurrentProjectID = projectID

	if joined {
		s.d.broadcast(projectID, s.conn.ID, presenceMessage(EventUserJoined, Presence{
			ProjectID: projectID,
			UserID:    s.userID(),
			UserName:  s.conn.UserName,
		}))
		s.d.logger.Info("room joined", "conn", s.conn.ID, "room", projectID)
	}

	ack := ok()
	ack.Members = s.d.rooms.Members(projectID)
	ack.Tickets = board
	return ack
}

// LeaveRoom announces the departure to the remaining members and then drops
// the membership. Best-effort: leaving a room the connection is not in only
// logs.
func (s *Session) LeaveRoom(_ context.Context, req LeaveRoom) {
	projectID := strings.TrimSpace(req.ProjectID)
	if !s.d.rooms.IsInRoom(projectID, s.conn.ID) {
		s.d.logger.Debug("leave ignored: not in room", "conn", s.conn.ID, "room", projectID)
		return
	}

	s.d.broadcast(projectID, s.conn.ID, presenceMessage(EventUserLeft, Presence{
		ProjectID: projectID,
		UserID:    s.userID(),
	}))
	s.d.rooms.Leave(projectID, s.conn.ID)
	if s.conn.CurrentProjectID == projectID {
		s.conn.CurrentProjectID = ""
	}
	s.d.logger.Info("room left", "conn", s.conn.ID, "room", projectID)
}

// Disconnect removes the connection from every room, tells each room's
// remaining members, and releases the outbox. Safe to call more than once.
func (s *Session) Disconnect(_ context.Context) {
	left := s.d.rooms.LeaveAll(s.conn.ID)
	for _, projectID := range left {
		s.d.broadcast(projectID, s.conn.ID, presenceMessage(EventUserLeft, Presence{
			ProjectID: projectID,
			UserID:    s.userID(),
		}))
	}
	s.d.release(s.conn.ID, s.outbox)
	s.d.logger.Info("connection closed", "conn", s.conn.ID, "rooms", len(left))
}

// MoveTicket validates membership and transition legality, applies the move
// through persistence, then broadcasts ticket:moved.
//
// fromStatus == toStatus is a reorder within a column: it skips the
// workflow check and is persisted as a position change.
func (s *Session) MoveTicket(ctx context.Context, req MoveTicket) Ack {
	if req.TicketID == "" {
		return s.reject(newError(CodeInvalidPayload, "ticketId is required"), req.ProjectID)
	}
	if err := s.requireMember(req.ProjectID); err != nil {
		return s.reject(err, req.ProjectID)
	}
	if req.NewPosition < 0 {
		return s.reject(newError(CodeInvalidPayload, "newPosition must be non-negative"), req.ProjectID)
	}
	if req.FromStatus != req.ToStatus {
		if err := workflow.Validate(req.FromStatus, req.ToStatus); err != nil {
			return s.reject(&Error{Code: CodeInvalidTransition, Message: err.Error(), Err: err}, req.ProjectID)
		}
	} else if !req.ToStatus.Valid() {
		return s.reject(newError(CodeInvalidTransition, "unknown status "+string(req.ToStatus)), req.ProjectID)
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = s.userID()
	}

	ack := ok()
	if s.d.repo != nil {
		stored, err := s.d.repo.ApplyTransition(ctx, Transition{
			TicketID:    req.TicketID,
			ProjectID:   req.ProjectID,
			From:        req.FromStatus,
			To:          req.ToStatus,
			NewPosition: req.NewPosition,
			Actor:       triggeredBy,
			Reason:      req.Reason,
		})
		if err != nil {
			return s.reject(classify(err, CodeMoveFailed), req.ProjectID)
		}
		ack.Ticket = &stored
	}

	s.d.broadcast(req.ProjectID, s.conn.ID, mutationMessage(ticket.Moved{
		TicketID:    req.TicketID,
		ProjectID:   req.ProjectID,
		FromStatus:  req.FromStatus,
		ToStatus:    req.ToStatus,
		NewPosition: req.NewPosition,
		TriggeredBy: triggeredBy,
		Reason:      req.Reason,
	}))
	return ack
}

// CreateTicket assigns the server identity and timestamps, persists, and
// broadcasts the canonical record so every receiver sees the same ticket.
func (s *Session) CreateTicket(ctx context.Context, req CreateTicket) Ack {
	if err := s.requireMember(req.ProjectID); err != nil {
		return s.reject(err, req.ProjectID)
	}

	now := s.d.clock.Now().UTC()
	t := req.Ticket.Normalize()
	t.ID = s.d.ids.Generate()
	t.ProjectID = req.ProjectID
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = workflow.Backlog
	}
	if err := t.Validate(); err != nil {
		return s.reject(&Error{Code: CodeCreateFailed, Message: err.Error(), Err: err}, req.ProjectID)
	}

	if s.d.repo != nil {
		stored, err := s.d.repo.CreateTicket(ctx, t, s.userID())
		if err != nil {
			return s.reject(classify(err, CodeCreateFailed), req.ProjectID)
		}
		t = stored
	}

	s.d.broadcast(req.ProjectID, s.conn.ID, mutationMessage(ticket.Created{
		ProjectID: req.ProjectID,
		Ticket:    t,
	}))
	ack := ok()
	ack.Ticket = &t
	return ack
}

// UpdateTicket applies a partial update and broadcasts ticket:updated.
func (s *Session) UpdateTicket(ctx context.Context, req UpdateTicket) Ack {
	if req.TicketID == "" {
		return s.reject(newError(CodeInvalidPayload, "ticketId is required"), req.ProjectID)
	}
	if err := s.requireMember(req.ProjectID); err != nil {
		return s.reject(err, req.ProjectID)
	}
	updates := req.Updates.Normalize()
	if updates.IsEmpty() {
		return s.reject(newError(CodeInvalidPayload, "updates are empty"), req.ProjectID)
	}
	if updates.Status != nil && !updates.Status.Valid() {
		return s.reject(newError(CodeInvalidTransition, "unknown status "+string(*updates.Status)), req.ProjectID)
	}

	ack := ok()
	if s.d.repo != nil {
		stored, err := s.d.repo.UpdateTicket(ctx, req.TicketID, req.ProjectID, updates, s.userID())
		if err != nil {
			return s.reject(classify(err, CodeUpdateFailed), req.ProjectID)
		}
		ack.Ticket = &stored
	}

	s.d.broadcast(req.ProjectID, s.conn.ID, mutationMessage(ticket.Updated{
		TicketID:  req.TicketID,
		ProjectID: req.ProjectID,
		Updates:   updates,
	}))
	return ack
}

// DeleteTicket removes a ticket and broadcasts ticket:deleted.
func (s *Session) DeleteTicket(ctx context.Context, req DeleteTicket) Ack {
	if req.TicketID == "" {
		return s.reject(newError(CodeInvalidPayload, "ticketId is required"), req.ProjectID)
	}
	if err := s.requireMember(req.ProjectID); err != nil {
		return s.reject(err, req.ProjectID)
	}
	if s.d.repo != nil {
		if err := s.d.repo.DeleteTicket(ctx, req.TicketID, req.ProjectID, s.userID()); err != nil {
			return s.reject(classify(err, CodeDeleteFailed), req.ProjectID)
		}
	}

	s.d.broadcast(req.ProjectID, s.conn.ID, mutationMessage(ticket.Deleted{
		TicketID:  req.TicketID,
		ProjectID: req.ProjectID,
	}))
	return ok()
}

func (s *Session) requireMember(projectID string) *Error {
	if projectID == "" || !s.d.rooms.IsInRoom(projectID, s.conn.ID) {
		return newError(CodeNotInProject, "connection has not joined project "+projectID)
	}
	return nil
}

func (s *Session) reject(err *Error, projectID string) Ack {
	attrs := []any{"code", err.Code, "conn", s.conn.ID, "room", projectID}
	if err.Err != nil {
		attrs = append(attrs, "error", err.Err)
	}
	s.d.logger.Debug("request rejected", attrs...)
	return fail(err)
}
