package ticket

import (
	"errors"
	"fmt"

	"github.com/roach88/ticketsync/internal/workflow"
)

// ErrNotFound is returned by persistence when a ticket id is unknown.
var ErrNotFound = errors.New("ticket not found")

// ConflictError reports that a stored ticket no longer matches the state the
// caller based its mutation on, typically because another client moved it
// first.
type ConflictError struct {
	TicketID string
	Expected workflow.Status
	Actual   workflow.Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ticket %s is %s, expected %s", e.TicketID, e.Actual, e.Expected)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
