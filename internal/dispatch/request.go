package dispatch

import (
	"github.com/roach88/ticketsync/internal/room"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// Client -> server request names.
const (
	RequestJoinRoom   = "room:join"
	RequestLeaveRoom  = "room:leave"
	RequestMoveTicket = "ticket:move"
	RequestCreate     = "ticket:create"
	RequestUpdate     = "ticket:update"
	RequestDelete     = "ticket:delete"
)

// Request is the closed union of client requests. Session.Handle switches
// over the concrete types exhaustively.
type Request interface {
	Name() string
	request()
}

type JoinRoom struct {
	ProjectID string `json:"projectId"`
}

type LeaveRoom struct {
	ProjectID string `json:"projectId"`
}

type MoveTicket struct {
	TicketID    string          `json:"ticketId"`
	ProjectID   string          `json:"projectId"`
	FromStatus  workflow.Status `json:"fromStatus"`
	ToStatus    workflow.Status `json:"toStatus"`
	NewPosition int             `json:"newPosition"`
	TriggeredBy string          `json:"triggeredBy"`
	Reason      string          `json:"reason,omitempty"`
}

type CreateTicket struct {
	ProjectID string        `json:"projectId"`
	Ticket    ticket.Ticket `json:"ticket"`
}

type UpdateTicket struct {
	TicketID  string       `json:"ticketId"`
	ProjectID string       `json:"projectId"`
	Updates   ticket.Patch `json:"updates"`
}

type DeleteTicket struct {
	TicketID  string `json:"ticketId"`
	ProjectID string `json:"projectId"`
}

func (JoinRoom) Name() string     { return RequestJoinRoom }
func (LeaveRoom) Name() string    { return RequestLeaveRoom }
func (MoveTicket) Name() string   { return RequestMoveTicket }
func (CreateTicket) Name() string { return RequestCreate }
func (UpdateTicket) Name() string { return RequestUpdate }
func (DeleteTicket) Name() string { return RequestDelete }

func (JoinRoom) request()     {}
func (LeaveRoom) request()    {}
func (MoveTicket) request()   {}
func (CreateTicket) request() {}
func (UpdateTicket) request() {}
func (DeleteTicket) request() {}

// NewRequest returns a zero value of the request type registered under name,
// ready to be decoded into. ok is false for unknown names.
func NewRequest(name string) (req Request, ok bool) {
	switch name {
	case RequestJoinRoom:
		return &JoinRoom{}, true
	case RequestLeaveRoom:
		return &LeaveRoom{}, true
	case RequestMoveTicket:
		return &MoveTicket{}, true
	case RequestCreate:
		return &CreateTicket{}, true
	case RequestUpdate:
		return &UpdateTicket{}, true
	case RequestDelete:
		return &DeleteTicket{}, true
	default:
		return nil, false
	}
}

// pointer receivers forward so decoded *T values satisfy Request too.
func (r *JoinRoom) deref() Request     { return *r }
func (r *LeaveRoom) deref() Request    { return *r }
func (r *MoveTicket) deref() Request   { return *r }
func (r *CreateTicket) deref() Request { return *r }
func (r *UpdateTicket) deref() Request { return *r }
func (r *DeleteTicket) deref() Request { return *r }

type derefer interface {
	deref() Request
}

// Deref turns a decoded *T request back into its value form.
func Deref(req Request) Request {
	if d, ok := req.(derefer); ok {
		return d.deref()
	}
	return req
}

// AckError is the structured failure sent back to the requester.
type AckError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Ack is the acknowledgement for a request. Ticket is set on create (and on
// move/update when persistence returned the stored record); Members and
// Tickets are set on join, Tickets holding the project's current board.
type Ack struct {
	Success bool            `json:"success"`
	Error   *AckError       `json:"error,omitempty"`
	Ticket  *ticket.Ticket  `json:"ticket,omitempty"`
	Members []room.Member   `json:"members,omitempty"`
	Tickets []ticket.Ticket `json:"tickets,omitempty"`
}

// Err converts a failed Ack back into an *Error; nil on success.
func (a Ack) Err() error {
	if a.Success || a.Error == nil {
		return nil
	}
	return &Error{Code: a.Error.Code, Message: a.Error.Message}
}

func ok() Ack {
	return Ack{Success: true}
}

func fail(err *Error) Ack {
	return Ack{Success: false, Error: &AckError{Code: err.Code, Message: err.Message}}
}
