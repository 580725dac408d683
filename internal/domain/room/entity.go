package room

import (
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Room kinds. A private room has exactly two participants and immutable
// membership; a group room has three or more and may carry a name/image.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Message content types
const (
	ContentText  = "text"
	ContentImage = "image"
	ContentVideo = "video"
	ContentAudio = "audio"
	ContentFile  = "file"
)

// Room represents the rooms table
type Room struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind               string    `gorm:"not null"`
	Name               sql.NullString
	ImageURL           sql.NullString
	LastMessagePreview sql.NullString
	// PairKey is the deterministic key for a private room's unordered
	// participant pair. Unique so the same pair can never get two rooms.
	PairKey   sql.NullString `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomParticipant represents the room_participants join table. Position
// preserves the ordering of the participant set at creation time.
type RoomParticipant struct {
	RoomID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ParticipantID uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Position      int       `gorm:"not null"`
	CreatedAt     time.Time
}

// Message represents the messages table. Rows are immutable once written;
// edits and deletes only flip the soft flags.
type Message struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID              uuid.UUID `gorm:"type:uuid;index:idx_messages_room_created"`
	SenderParticipantID uuid.UUID `gorm:"type:uuid"`
	Content             string
	ContentType         string `gorm:"not null;default:text"`
	IsRead              bool
	IsDeleted           bool
	IsEdited            bool
	CreatedAt           time.Time `gorm:"index:idx_messages_room_created"`
	UpdatedAt           time.Time
}

// PairKeyFor builds the canonical pair key for a private room from its two
// participant ids, independent of order.
func PairKeyFor(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// KindForCount computes the room kind from the participant count. The
// computed kind always wins over a caller-supplied one.
func KindForCount(n int) string {
	if n == 2 {
		return KindPrivate
	}
	return KindGroup
}
