package ticket

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/ticketsync/internal/workflow"
)

// EventKind discriminates MutationEvent variants.
type EventKind string

const (
	KindMoved   EventKind = "moved"
	KindCreated EventKind = "created"
	KindUpdated EventKind = "updated"
	KindDeleted EventKind = "deleted"
)

// Wire event names for room broadcasts.
const (
	EventMoved   = "ticket:moved"
	EventCreated = "ticket:created"
	EventUpdated = "ticket:updated"
	EventDeleted = "ticket:deleted"
)

// EventName maps a kind to its broadcast name.
func EventName(kind EventKind) string {
	switch kind {
	case KindMoved:
		return EventMoved
	case KindCreated:
		return EventCreated
	case KindUpdated:
		return EventUpdated
	case KindDeleted:
		return EventDeleted
	default:
		return ""
	}
}

// KindFromEventName is the inverse of EventName.
func KindFromEventName(name string) (EventKind, bool) {
	switch name {
	case EventMoved:
		return KindMoved, true
	case EventCreated:
		return KindCreated, true
	case EventUpdated:
		return KindUpdated, true
	case EventDeleted:
		return KindDeleted, true
	default:
		return "", false
	}
}

// MutationEvent is the closed union of ticket mutations. The unexported
// marker method keeps other packages from adding variants; switch statements
// over the four concrete types are exhaustive.
type MutationEvent interface {
	Kind() EventKind
	Project() string
	mutationEvent()
}

// Moved carries the full target state of a drag so peers can apply it
// without knowing the ticket's previous state.
type Moved struct {
	TicketID    string          `json:"ticketId"`
	ProjectID   string          `json:"projectId"`
	FromStatus  workflow.Status `json:"fromStatus"`
	ToStatus    workflow.Status `json:"toStatus"`
	NewPosition int             `json:"newPosition"`
	TriggeredBy string          `json:"triggeredBy"`
	Reason      string          `json:"reason,omitempty"`
}

type Created struct {
	ProjectID string `json:"projectId"`
	Ticket    Ticket `json:"ticket"`
}

type Updated struct {
	TicketID  string `json:"ticketId"`
	ProjectID string `json:"projectId"`
	Updates   Patch  `json:"updates"`
}

type Deleted struct {
	TicketID  string `json:"ticketId"`
	ProjectID string `json:"projectId"`
}

func (Moved) Kind() EventKind   { return KindMoved }
func (Created) Kind() EventKind { return KindCreated }
func (Updated) Kind() EventKind { return KindUpdated }
func (Deleted) Kind() EventKind { return KindDeleted }

func (e Moved) Project() string   { return e.ProjectID }
func (e Created) Project() string { return e.ProjectID }
func (e Updated) Project() string { return e.ProjectID }
func (e Deleted) Project() string { return e.ProjectID }

func (Moved) mutationEvent()   {}
func (Created) mutationEvent() {}
func (Updated) mutationEvent() {}
func (Deleted) mutationEvent() {}

// TargetID returns the id of the ticket an event mutates.
func TargetID(ev MutationEvent) string {
	switch e := ev.(type) {
	case Moved:
		return e.TicketID
	case Created:
		return e.Ticket.ID
	case Updated:
		return e.TicketID
	case Deleted:
		return e.TicketID
	default:
		return ""
	}
}

// MovePatchFor converts a Moved event into the patch a peer applies.
func MovePatchFor(e Moved) Patch {
	return MovePatch(e.ToStatus, e.NewPosition)
}

// EncodePayload marshals an event into the JSON payload of its broadcast.
func EncodePayload(ev MutationEvent) (json.RawMessage, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	return body, nil
}

// DecodePayload parses a payload for the given kind.
func DecodePayload(kind EventKind, payload json.RawMessage) (MutationEvent, error) {
	var (
		ev  MutationEvent
		err error
	)
	switch kind {
	case KindMoved:
		var e Moved
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindCreated:
		var e Created
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindUpdated:
		var e Updated
		err = json.Unmarshal(payload, &e)
		ev = e
	case KindDeleted:
		var e Deleted
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return ev, nil
}
