package repository

import (
	"context"
	"errors"

	"harbor-chat/internal/domain/participant"
	harbor_errors "harbor-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &PostgresParticipantRepository{db: db}
}

func (r *PostgresParticipantRepository) UpsertByIdentity(ctx context.Context, p *participant.Participant) (*participant.Participant, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_identity_ref"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url", "contact_email", "updated_at"}),
		}).
		Create(p).Error
	if err != nil {
		return nil, err
	}

	// Re-read so the caller gets the durable id when the row already existed.
	var stored participant.Participant
	if err := r.db.WithContext(ctx).Where("user_identity_ref = ?", p.UserIdentityRef).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *PostgresParticipantRepository) GetByID(ctx context.Context, id uuid.UUID) (*participant.Participant, error) {
	var p participant.Participant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, harbor_errors.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PostgresParticipantRepository) GetManyByID(ctx context.Context, ids []uuid.UUID) ([]participant.Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var participants []participant.Participant
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&participants).Error
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *PostgresParticipantRepository) GetByRoom(ctx context.Context, roomID uuid.UUID) ([]participant.Participant, error) {
	var participants []participant.Participant
	err := r.db.WithContext(ctx).
		Joins("JOIN room_participants ON room_participants.participant_id = participants.id").
		Where("room_participants.room_id = ?", roomID).
		Order("room_participants.position ASC").
		Find(&participants).Error
	if err != nil {
		return nil, err
	}
	return participants, nil
}
