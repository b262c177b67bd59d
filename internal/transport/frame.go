package transport

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/ticket"
)

// Frame types that are not request or event names.
const (
	FrameAck   = "ack"
	FrameError = "error"
)

// Frame-level error codes. Request failures use dispatch error codes.
const (
	CodeInvalidFrame  = "INVALID_FRAME"
	CodeUnsupported   = "UNSUPPORTED_FRAME"
	CodeFrameTooLarge = "FRAME_TOO_LARGE"
)

// Frame is the envelope of every WebSocket message.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Room      string          `json:"room,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an "error" frame, sent when a frame could
// not be routed to a request handler at all.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a decoded broadcast. Exactly one of Mutation or Presence is set.
type Event struct {
	Name     string
	Room     string
	Seq      int64
	Mutation ticket.MutationEvent
	Presence *dispatch.Presence
}

// RequestFrame wraps a request for sending.
func RequestFrame(requestID string, req dispatch.Request) (Frame, error) {
	payload, err := json.Marshal(dispatch.Deref(req))
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s request: %w", req.Name(), err)
	}
	return Frame{Type: req.Name(), RequestID: requestID, Payload: payload}, nil
}

// DecodeRequest parses a request frame. ok is false when Type is not a
// known request name.
func DecodeRequest(f Frame) (req dispatch.Request, ok bool, err error) {
	req, ok = dispatch.NewRequest(f.Type)
	if !ok {
		return nil, false, nil
	}
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, req); err != nil {
			return nil, true, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
	}
	return dispatch.Deref(req), true, nil
}

// AckFrame wraps an acknowledgement.
func AckFrame(requestID string, ack dispatch.Ack) (Frame, error) {
	payload, err := json.Marshal(ack)
	if err != nil {
		return Frame{}, fmt.Errorf("encode ack: %w", err)
	}
	return Frame{Type: FrameAck, RequestID: requestID, Payload: payload}, nil
}

// ErrorFrame builds a frame-level error.
func ErrorFrame(requestID, code, message string) Frame {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Frame{Type: FrameError, RequestID: requestID, Payload: payload}
}

// MessageFrame encodes an outbox message as a broadcast frame.
func MessageFrame(m dispatch.Message) (Frame, error) {
	var (
		payload json.RawMessage
		err     error
	)
	if m.Mutation != nil {
		payload, err = ticket.EncodePayload(m.Mutation)
	} else {
		payload, err = json.Marshal(m.Presence)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s broadcast: %w", m.Name, err)
	}
	return Frame{Type: m.Name, Room: m.RoomID, Seq: m.Seq, Payload: payload}, nil
}

// DecodeEvent parses a broadcast frame. ok is false when Type is not a
// broadcast name.
func DecodeEvent(f Frame) (ev Event, ok bool, err error) {
	ev = Event{Name: f.Type, Room: f.Room, Seq: f.Seq}
	if kind, isMutation := ticket.KindFromEventName(f.Type); isMutation {
		ev.Mutation, err = ticket.DecodePayload(kind, f.Payload)
		return ev, true, err
	}
	switch f.Type {
	case dispatch.EventUserJoined, dispatch.EventUserLeft:
		var p dispatch.Presence
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, true, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
		ev.Presence = &p
		return ev, true, nil
	default:
		return ev, false, nil
	}
}

func jsonUnmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(data, v)
}
