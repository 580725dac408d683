package events

import (
	"encoding/json"
	"time"

	"harbor-chat/internal/domain/participant"
	"harbor-chat/internal/domain/room"

	"github.com/google/uuid"
)

// Wire representations pushed to clients.

type Participant struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"displayName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	ContactEmail string    `json:"contactEmail,omitempty"`
}

type Message struct {
	ID                  uuid.UUID `json:"id"`
	RoomID              uuid.UUID `json:"roomId"`
	SenderParticipantID uuid.UUID `json:"sender"`
	Content             string    `json:"content"`
	ContentType         string    `json:"contentType"`
	IsRead              bool      `json:"isRead"`
	IsDeleted           bool      `json:"isDeleted"`
	IsEdited            bool      `json:"isEdited"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

type Room struct {
	ID                 uuid.UUID     `json:"id"`
	Kind               string        `json:"kind"`
	Name               string        `json:"name,omitempty"`
	ImageURL           string        `json:"imageUrl,omitempty"`
	LastMessagePreview string        `json:"lastMessagePreview,omitempty"`
	Participants       []Participant `json:"participants"`
	Messages           []Message     `json:"messages"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

type InitialData struct {
	UserRooms   []Room      `json:"userRooms"`
	Participant Participant `json:"participant"`
}

type MessagePayload struct {
	Message Message   `json:"message"`
	RoomID  uuid.UUID `json:"roomId"`
}

type TypingPayload struct {
	RoomID        uuid.UUID `json:"roomId"`
	ParticipantID uuid.UUID `json:"participantId"`
	Active        bool      `json:"active"`
}

type serverEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Encode wraps a server event payload in its tagged envelope.
func Encode(eventType string, payload interface{}) []byte {
	data, err := json.Marshal(serverEnvelope{Type: eventType, Payload: payload})
	if err != nil {
		// Payloads are our own closed types; a marshal failure is a bug.
		panic(err)
	}
	return data
}

// EncodeError builds the error event delivered to a single session.
func EncodeError(msg string) []byte {
	return Encode(ServerError, msg)
}

// --- domain -> wire converters ---

func FromParticipant(p *participant.Participant) Participant {
	return Participant{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		AvatarURL:    p.AvatarURL,
		ContactEmail: p.ContactEmail,
	}
}

func FromMessage(m *room.Message) Message {
	return Message{
		ID:                  m.ID,
		RoomID:              m.RoomID,
		SenderParticipantID: m.SenderParticipantID,
		Content:             m.Content,
		ContentType:         m.ContentType,
		IsRead:              m.IsRead,
		IsDeleted:           m.IsDeleted,
		IsEdited:            m.IsEdited,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func FromMessages(msgs []room.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, FromMessage(&msgs[i]))
	}
	return out
}

func FromRoom(r *room.Room, participants []participant.Participant, messages []room.Message) Room {
	wire := Room{
		ID:        r.ID,
		Kind:      r.Kind,
		Messages:  FromMessages(messages),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Name.Valid {
		wire.Name = r.Name.String
	}
	if r.ImageURL.Valid {
		wire.ImageURL = r.ImageURL.String
	}
	if r.LastMessagePreview.Valid {
		wire.LastMessagePreview = r.LastMessagePreview.String
	}
	wire.Participants = make([]Participant, 0, len(participants))
	for i := range participants {
		wire.Participants = append(wire.Participants, FromParticipant(&participants[i]))
	}
	return wire
}
