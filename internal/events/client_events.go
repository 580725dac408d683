package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClientEvent is the closed union of events a connected session may send.
type ClientEvent interface {
	isClientEvent()
}

type JoinRoom struct {
	RoomID uuid.UUID `json:"roomId"`
}

type LeaveRoom struct {
	RoomID uuid.UUID `json:"roomId"`
}

type CreateRoom struct {
	ParticipantIDs []uuid.UUID `json:"participants"`
	Kind           string      `json:"kind,omitempty"`
	RoomName       string      `json:"roomName,omitempty"`
	RoomImg        string      `json:"roomImg,omitempty"`
}

// SendMessage carries a new message. The sender is taken from the
// authenticated session, never from the payload.
type SendMessage struct {
	RoomID      uuid.UUID `json:"room"`
	Content     string    `json:"content"`
	ContentType string    `json:"contentType"`
}

type GetRoomMessages struct {
	RoomID uuid.UUID `json:"roomId"`
}

type EditMessage struct {
	RoomID    uuid.UUID `json:"roomId"`
	MessageID uuid.UUID `json:"messageId"`
	Content   string    `json:"content"`
}

type DeleteMessage struct {
	RoomID    uuid.UUID `json:"roomId"`
	MessageID uuid.UUID `json:"messageId"`
}

type Typing struct {
	RoomID uuid.UUID `json:"roomId"`
	Active bool      `json:"active"`
}

func (JoinRoom) isClientEvent()        {}
func (LeaveRoom) isClientEvent()       {}
func (CreateRoom) isClientEvent()      {}
func (SendMessage) isClientEvent()     {}
func (GetRoomMessages) isClientEvent() {}
func (EditMessage) isClientEvent()     {}
func (DeleteMessage) isClientEvent()   {}
func (Typing) isClientEvent()          {}

type clientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a raw frame into one of the closed client event variants.
// Unknown types and malformed payloads are errors; they never reach the
// router.
func Decode(data []byte) (ClientEvent, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed event envelope: %w", err)
	}

	var (
		ev  ClientEvent
		err error
	)
	switch env.Type {
	case ClientJoinRoom:
		var e JoinRoom
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case ClientLeaveRoom:
		var e LeaveRoom
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case ClientCreateRoom:
		var e CreateRoom
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case ClientMessage:
		var e SendMessage
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case ClientGetRoomMessages:
		var e GetRoomMessages
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case ClientEditMessage:
		var e EditMessage
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case ClientDeleteMessage:
		var e DeleteMessage
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case ClientTyping:
		var e Typing
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}
	return ev, nil
}
