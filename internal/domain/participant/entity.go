package participant

import (
	"time"

	"github.com/google/uuid"
)

// Participant represents the participants table: the chat-facing profile
// attached to an externally-owned user identity. Created lazily on first
// connection, updated only by profile sync.
type Participant struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserIdentityRef string    `gorm:"uniqueIndex;not null"`
	DisplayName     string    `gorm:"not null"`
	AvatarURL       string
	ContactEmail    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
