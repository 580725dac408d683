package repository

import (
	"context"

	"harbor-chat/internal/domain/participant"
	"harbor-chat/internal/domain/room"

	"github.com/google/uuid"
)

// RoomRepository is the durable Room Store boundary. The core's no-loss and
// ordering guarantees are placed on the gateway and the cache flush protocol
// above it; this layer is plain CRUD.
type RoomRepository interface {
	// CreateRoom persists a room with its participant set. For a private
	// room whose pair already exists it returns the existing room and
	// harbor_errors.ErrAlreadyExists.
	CreateRoom(ctx context.Context, r *room.Room, participantIDs []uuid.UUID) (*room.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*room.Room, error)
	GetRoomsByParticipant(ctx context.Context, participantID uuid.UUID) ([]room.Room, error)
	GetParticipantIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)

	// AppendMessages writes a batch of messages in the given order.
	AppendMessages(ctx context.Context, roomID uuid.UUID, messages []room.Message) error
	GetMessage(ctx context.Context, messageID uuid.UUID) (*room.Message, error)
	// GetRecentMessages returns up to limit messages, newest first.
	GetRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]room.Message, error)
	UpdateLastPreview(ctx context.Context, roomID uuid.UUID, preview string) error
	// SetMessageFlags updates the soft edit/delete flags on a persisted
	// message. Content is replaced only when edited is true.
	SetMessageFlags(ctx context.Context, messageID uuid.UUID, content string, edited, deleted bool) error
}

// ParticipantRepository is the durable Participant Directory boundary.
type ParticipantRepository interface {
	// UpsertByIdentity creates the participant on first connect and
	// refreshes profile fields on subsequent ones.
	UpsertByIdentity(ctx context.Context, p *participant.Participant) (*participant.Participant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*participant.Participant, error)
	GetManyByID(ctx context.Context, ids []uuid.UUID) ([]participant.Participant, error)
	GetByRoom(ctx context.Context, roomID uuid.UUID) ([]participant.Participant, error)
}
