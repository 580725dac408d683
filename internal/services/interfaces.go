package services

import (
	"context"

	"harbor-chat/internal/domain/presence"
	"harbor-chat/internal/domain/room"

	"github.com/google/uuid"
)

// RoomCache is the fast-path surface for active-room state. The gateway
// never touches the durable store on the send/receive path; everything hot
// goes through here. AppendMessage must be atomic with the counter
// increment so concurrent sends to one room never double-count.
type RoomCache interface {
	Get(ctx context.Context, roomID uuid.UUID) (*room.CachedState, error)
	Put(ctx context.Context, roomID uuid.UUID, state *room.CachedState) error
	AppendMessage(ctx context.Context, roomID uuid.UUID, m *room.Message) (int64, error)
	UpdateMessage(ctx context.Context, roomID uuid.UUID, m *room.Message) (bool, error)
	UnflushedTail(ctx context.Context, roomID uuid.UUID, n int64) ([]room.Message, error)
	MarkFlushed(ctx context.Context, roomID uuid.UUID, n int64) error
	UnflushedCount(ctx context.Context, roomID uuid.UUID) (int64, error)
	SetOnline(ctx context.Context, roomID, participantID uuid.UUID, online bool) error
	Evict(ctx context.Context, roomID uuid.UUID) error
	ActiveRooms(ctx context.Context) ([]uuid.UUID, error)
}

// PresenceRegistry is the ephemeral session index. Reset is called once at
// process start; entries from a previous incarnation are never valid.
type PresenceRegistry interface {
	Register(ctx context.Context, e *presence.Entry) error
	Unregister(ctx context.Context, sessionID string) error
	Session(ctx context.Context, sessionID string) (*presence.Entry, error)
	SessionsByIdentity(ctx context.Context, identity string) ([]string, error)
	SetCurrentRoom(ctx context.Context, sessionID, roomID string) error
	ClearCurrentRoom(ctx context.Context, sessionID string) error
	Reset(ctx context.Context) error
}

// Identity is the stable external identity resolved from a bearer
// credential. Ref is the durable back-reference stored on the participant.
type Identity struct {
	Ref         string
	DisplayName string
	Email       string
	AvatarURL   string
}

// IdentityVerifier validates the credential handed over at connection time.
type IdentityVerifier interface {
	Verify(token string) (*Identity, error)
}

// Broadcaster delivers encoded events to transport sessions: fan-out to a
// room's subscription group or point-to-point to one session. Delivery is
// at-least-once and must never block the caller on a slow consumer.
type Broadcaster interface {
	Subscribe(sessionID string, roomID uuid.UUID)
	Unsubscribe(sessionID string, roomID uuid.UUID)
	BroadcastToRoom(roomID uuid.UUID, payload []byte)
	SendToSession(sessionID string, payload []byte)
	RoomSubscriberCount(roomID uuid.UUID) int
}
