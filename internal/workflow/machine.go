package workflow

import (
	"errors"
	"fmt"
)

// transitions is the authoritative graph. Every status has an entry so the
// map doubles as the membership test for Status.Valid.
var transitions = map[Status][]Status{
	Backlog:       {Todo, Cancelled},
	Todo:          {Backlog, InProgress, Cancelled},
	InProgress:    {Todo, NeedsFeedback, Review, Cancelled},
	NeedsFeedback: {ReadyToResume, Cancelled},
	ReadyToResume: {InProgress},
	Review:        {Done, InProgress, Cancelled},
	Done:          {},
	Cancelled:     {Backlog},
}

// CanTransition reports whether a ticket may move from one status to another.
// Unknown statuses and self-transitions return false.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transitions returns the statuses reachable from one step out of from.
// The returned slice is a copy.
func Transitions(from Status) []Status {
	next := transitions[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return s.Valid() && len(transitions[s]) == 0
}

// InvalidTransitionError is returned by Validate for an illegal pair.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Validate returns an *InvalidTransitionError when from -> to is not an edge.
func Validate(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
