package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"harbor-chat/internal/domain/room"
	harbor_errors "harbor-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresRoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &PostgresRoomRepository{db: db}
}

func (r *PostgresRoomRepository) CreateRoom(ctx context.Context, rm *room.Room, participantIDs []uuid.UUID) (*room.Room, error) {
	if rm.Kind == room.KindPrivate && rm.PairKey.Valid {
		var existing room.Room
		err := r.db.WithContext(ctx).Where("pair_key = ?", rm.PairKey.String).First(&existing).Error
		if err == nil {
			return &existing, harbor_errors.ErrAlreadyExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rm).Error; err != nil {
			return err
		}
		now := time.Now()
		members := make([]room.RoomParticipant, 0, len(participantIDs))
		for i, pid := range participantIDs {
			members = append(members, room.RoomParticipant{
				RoomID:        rm.ID,
				ParticipantID: pid,
				Position:      i,
				CreatedAt:     now,
			})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a race on the pair key; surface the winner.
			var existing room.Room
			if rm.PairKey.Valid {
				if ferr := r.db.WithContext(ctx).Where("pair_key = ?", rm.PairKey.String).First(&existing).Error; ferr == nil {
					return &existing, harbor_errors.ErrAlreadyExists
				}
			}
			return nil, harbor_errors.ErrAlreadyExists
		}
		return nil, err
	}
	return rm, nil
}

func (r *PostgresRoomRepository) GetRoom(ctx context.Context, id uuid.UUID) (*room.Room, error) {
	var rm room.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, harbor_errors.ErrNotFound
		}
		return nil, err
	}
	return &rm, nil
}

func (r *PostgresRoomRepository) GetRoomsByParticipant(ctx context.Context, participantID uuid.UUID) ([]room.Room, error) {
	var rooms []room.Room
	err := r.db.WithContext(ctx).
		Joins("JOIN room_participants ON room_participants.room_id = rooms.id").
		Where("room_participants.participant_id = ?", participantID).
		Order("rooms.updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *PostgresRoomRepository) GetParticipantIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	var members []room.RoomParticipant
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("position ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ParticipantID)
	}
	return ids, nil
}

func (r *PostgresRoomRepository) AppendMessages(ctx context.Context, roomID uuid.UUID, messages []room.Message) error {
	if len(messages) == 0 {
		return nil
	}
	// CreateInBatches keeps insertion order, which the flush protocol
	// relies on.
	err := r.db.WithContext(ctx).CreateInBatches(&messages, 100).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A retried flush may resend rows already written; idempotent
			// persistence means that is not a failure.
			return r.appendMessagesOneByOne(ctx, messages)
		}
		return err
	}
	return nil
}

func (r *PostgresRoomRepository) appendMessagesOneByOne(ctx context.Context, messages []room.Message) error {
	for i := range messages {
		err := r.db.WithContext(ctx).Create(&messages[i]).Error
		if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return nil
}

func (r *PostgresRoomRepository) GetMessage(ctx context.Context, messageID uuid.UUID) (*room.Message, error) {
	var m room.Message
	err := r.db.WithContext(ctx).Where("id = ?", messageID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, harbor_errors.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRoomRepository) GetRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]room.Message, error) {
	var messages []room.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresRoomRepository) UpdateLastPreview(ctx context.Context, roomID uuid.UUID, preview string) error {
	return r.db.WithContext(ctx).
		Model(&room.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"last_message_preview": sql.NullString{String: preview, Valid: preview != ""},
			"updated_at":           time.Now(),
		}).Error
}

func (r *PostgresRoomRepository) SetMessageFlags(ctx context.Context, messageID uuid.UUID, content string, edited, deleted bool) error {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if edited {
		updates["is_edited"] = true
		updates["content"] = content
	}
	if deleted {
		updates["is_deleted"] = true
	}
	res := r.db.WithContext(ctx).
		Model(&room.Message{}).
		Where("id = ?", messageID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return harbor_errors.ErrNotFound
	}
	return nil
}
