package room

import "github.com/google/uuid"

// CachedState is a room's working set while the room is active: a
// denormalized participant list, a bounded reverse-chronological history
// tail (newest first), the newest message, and the count of messages not
// yet flushed to the durable store. It is rebuilt from the store whenever
// absent, so evicting it is safe once the counter is zero.
type CachedState struct {
	Kind           string
	Participants   []uuid.UUID
	Tail           []Message
	LastMessage    *Message
	UnflushedCount int64

	// OnlineParticipantIDs is advisory display bookkeeping, updated on
	// join/leave. Never an input to delivery or flushing.
	OnlineParticipantIDs []uuid.UUID
}
