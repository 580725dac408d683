package presence

import (
	"github.com/google/uuid"
)

// Entry is the ephemeral mapping for one live transport session:
// userIdentity <-> sessionID <-> participantID, plus the room the session
// is currently subscribed to (empty when idle). Created on connect,
// destroyed on disconnect, never persisted.
type Entry struct {
	SessionID     string
	Identity      string
	ParticipantID uuid.UUID
	CurrentRoomID string
}

// EntryFromFields rebuilds an entry from its stored hash fields.
func EntryFromFields(sessionID string, fields map[string]string) (*Entry, error) {
	pid, err := uuid.Parse(fields["participant_id"])
	if err != nil {
		return nil, err
	}
	return &Entry{
		SessionID:     sessionID,
		Identity:      fields["identity"],
		ParticipantID: pid,
		CurrentRoomID: fields["room_id"],
	}, nil
}
