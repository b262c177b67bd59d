package workflow

import (
	"fmt"
	"strings"
)

// Status is the workflow state of a ticket.
type Status string

const (
	Backlog       Status = "BACKLOG"
	Todo          Status = "TODO"
	InProgress    Status = "IN_PROGRESS"
	NeedsFeedback Status = "NEEDS_FEEDBACK"
	ReadyToResume Status = "READY_TO_RESUME"
	Review        Status = "REVIEW"
	Done          Status = "DONE"
	Cancelled     Status = "CANCELLED"
)

// AllStatuses lists every status in board column order.
func AllStatuses() []Status {
	return []Status{Backlog, Todo, InProgress, NeedsFeedback, ReadyToResume, Review, Done, Cancelled}
}

// Valid reports whether s is a member of the enumeration.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus accepts the canonical upper-case form as well as lower-case and
// dashed spellings ("in-progress", "in_progress").
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	s := Status(normalized)
	if !s.Valid() {
		return "", fmt.Errorf("unknown ticket status %q", raw)
	}
	return s, nil
}
