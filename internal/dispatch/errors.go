package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// ErrorCode categorises a rejected request. Codes are part of the wire
// contract and reach the sender in Ack.Error.
type ErrorCode string

const (
	// CodeNotInProject means the connection has not joined the ticket's room.
	CodeNotInProject ErrorCode = "NOT_IN_PROJECT"

	// CodeInvalidTransition means the workflow graph forbids the move.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodeTicketNotFound means persistence does not know the ticket.
	CodeTicketNotFound ErrorCode = "TICKET_NOT_FOUND"

	// CodeInvalidPayload means required request fields were missing or malformed.
	CodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// CodeJoinFailed means the project's board could not be loaded for the joiner.
	CodeJoinFailed ErrorCode = "JOIN_FAILED"

	CodeMoveFailed   ErrorCode = "MOVE_FAILED"
	CodeCreateFailed ErrorCode = "CREATE_FAILED"
	CodeUpdateFailed ErrorCode = "UPDATE_FAILED"
	CodeDeleteFailed ErrorCode = "DELETE_FAILED"
)

// Error is a coded handler failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// classify maps a repository error onto the wire taxonomy. Anything that is
// not a known domain error becomes the operation's generic failure code.
func classify(err error, fallback ErrorCode) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	var ite *workflow.InvalidTransitionError
	if errors.As(err, &ite) {
		return &Error{Code: CodeInvalidTransition, Message: ite.Error(), Err: err}
	}
	if errors.Is(err, ticket.ErrNotFound) {
		return &Error{Code: CodeTicketNotFound, Message: "ticket not found", Err: err}
	}
	if ticket.IsConflict(err) {
		return &Error{Code: fallback, Message: "ticket changed concurrently", Err: err}
	}
	return &Error{Code: fallback, Message: "persistence failure", Err: err}
}
