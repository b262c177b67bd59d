package dispatch

import (
	"github.com/roach88/ticketsync/internal/ticket"
)

// Presence broadcast names.
const (
	EventUserJoined = "user:joined"
	EventUserLeft   = "user:left"
)

// Presence is the payload of user:joined and user:left. UserName is only
// sent on join.
type Presence struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
}

// Message is one server -> client broadcast sitting in an Outbox. Exactly
// one of Mutation or Presence is set.
type Message struct {
	// Name is the wire event name (ticket:moved, user:left, ...).
	Name string

	// RoomID is the project room the message was broadcast to.
	RoomID string

	// Seq is the room's broadcast sequence number at send time.
	Seq int64

	// Sender is the connection that caused the broadcast.
	Sender string

	Mutation ticket.MutationEvent
	Presence *Presence
}

// Payload returns the value that is serialised as the frame payload.
func (m Message) Payload() any {
	if m.Mutation != nil {
		return m.Mutation
	}
	return m.Presence
}

func mutationMessage(ev ticket.MutationEvent) Message {
	return Message{
		Name:     ticket.EventName(ev.Kind()),
		RoomID:   ev.Project(),
		Mutation: ev,
	}
}

func presenceMessage(name string, p Presence) Message {
	return Message{
		Name:     name,
		RoomID:   p.ProjectID,
		Presence: &p,
	}
}
