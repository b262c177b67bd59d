package transport

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

func TestRequestFrame_DecodeRequest(t *testing.T) {
	in := dispatch.MoveTicket{
		TicketID: "t1", ProjectID: "p1",
		FromStatus: workflow.Backlog, ToStatus: workflow.Todo,
		NewPosition: 2, TriggeredBy: "alice",
	}
	f, err := RequestFrame("7", in)
	require.NoError(t, err)
	assert.Equal(t, dispatch.RequestMoveTicket, f.Type)
	assert.Equal(t, "7", f.RequestID)

	req, known, err := DecodeRequest(f)
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, in, req)
}

func TestDecodeRequest_Unknown(t *testing.T) {
	_, known, err := DecodeRequest(Frame{Type: "chat.send"})
	assert.False(t, known)
	assert.NoError(t, err)
}

func TestDecodeRequest_BadPayload(t *testing.T) {
	_, known, err := DecodeRequest(Frame{Type: dispatch.RequestJoinRoom, Payload: json.RawMessage(`{"projectId":5}`)})
	assert.True(t, known)
	assert.Error(t, err)
}

func TestMessageFrame_Mutation(t *testing.T) {
	msg := dispatch.Message{
		Name:   ticket.EventDeleted,
		RoomID: "p1",
		Seq:    4,
		Mutation: ticket.Deleted{
			TicketID:  "t9",
			ProjectID: "p1",
		},
	}
	f, err := MessageFrame(msg)
	require.NoError(t, err)
	assert.Equal(t, "ticket:deleted", f.Type)
	assert.Equal(t, "p1", f.Room)
	assert.Equal(t, int64(4), f.Seq)
	assert.JSONEq(t, `{"ticketId":"t9","projectId":"p1"}`, string(f.Payload))

	ev, ok, err := DecodeEvent(f)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg.Mutation, ev.Mutation)
	assert.Nil(t, ev.Presence)
}

func TestMessageFrame_Presence(t *testing.T) {
	msg := dispatch.Message{
		Name:     dispatch.EventUserLeft,
		RoomID:   "p1",
		Seq:      1,
		Presence: &dispatch.Presence{ProjectID: "p1", UserID: "alice"},
	}
	f, err := MessageFrame(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"projectId":"p1","userId":"alice"}`, string(f.Payload))

	ev, ok, err := DecodeEvent(f)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, ev.Presence)
	assert.Equal(t, "alice", ev.Presence.UserID)
}

func TestDecodeEvent_Unknown(t *testing.T) {
	_, ok, err := DecodeEvent(Frame{Type: FrameAck})
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestHeaderIdentity(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?user=query-user&project=p2", nil)
	r.Header.Set(HeaderUserID, "alice")
	r.Header.Set(HeaderUserName, "Alice")

	c, err := HeaderIdentity(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.UserID, "header wins over query")
	assert.Equal(t, "Alice", c.UserName)
	assert.Equal(t, "p2", c.CurrentProjectID)
	assert.Empty(t, c.ID)
}
