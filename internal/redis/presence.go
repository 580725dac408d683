package redis

import (
	"context"
	"time"

	"harbor-chat/internal/domain/presence"

	goredis "github.com/redis/go-redis/v9"
)

// Redis key prefixes for presence
const (
	presenceSessionPrefix  = "presence:session:"  // Hash per transport session
	presenceIdentityPrefix = "presence:identity:" // Set of session ids per user identity
	presenceScanPattern    = "presence:*"
)

// PresenceStore is the ephemeral bidirectional index between user
// identities, transport sessions, and participants. Nothing here is
// authoritative; entries live only as long as the session they describe.
type PresenceStore struct {
	client *goredis.Client
}

func NewPresenceStore(client *goredis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func sessionKey(sessionID string) string { return presenceSessionPrefix + sessionID }
func identityKey(identity string) string { return presenceIdentityPrefix + identity }

// Register records a new session on connect.
func (p *PresenceStore) Register(ctx context.Context, e *presence.Entry) error {
	_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(e.SessionID), map[string]interface{}{
			"identity":       e.Identity,
			"participant_id": e.ParticipantID.String(),
			"room_id":        e.CurrentRoomID,
			"connected_at":   time.Now().UTC().Format(time.RFC3339),
		})
		pipe.SAdd(ctx, identityKey(e.Identity), e.SessionID)
		return nil
	})
	return err
}

// Unregister drops the entry for a session on disconnect.
func (p *PresenceStore) Unregister(ctx context.Context, sessionID string) error {
	identity, err := p.client.HGet(ctx, sessionKey(sessionID), "identity").Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.SRem(ctx, identityKey(identity), sessionID)
		return nil
	})
	return err
}

// Session looks up the entry for a transport session. Returns nil when the
// session is unknown.
func (p *PresenceStore) Session(ctx context.Context, sessionID string) (*presence.Entry, error) {
	fields, err := p.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return presence.EntryFromFields(sessionID, fields)
}

// SessionsByIdentity returns the session ids currently connected for a
// user identity. Empty means offline.
func (p *PresenceStore) SessionsByIdentity(ctx context.Context, identity string) ([]string, error) {
	return p.client.SMembers(ctx, identityKey(identity)).Result()
}

// SetCurrentRoom records the room a session is subscribed to.
func (p *PresenceStore) SetCurrentRoom(ctx context.Context, sessionID, roomID string) error {
	return p.client.HSet(ctx, sessionKey(sessionID), "room_id", roomID).Err()
}

// ClearCurrentRoom clears the subscription marker on explicit leave.
func (p *PresenceStore) ClearCurrentRoom(ctx context.Context, sessionID string) error {
	return p.client.HSet(ctx, sessionKey(sessionID), "room_id", "").Err()
}

// Reset clears the whole registry. Called once on process cold start;
// entries left over from a previous incarnation are never valid.
func (p *PresenceStore) Reset(ctx context.Context) error {
	iter := p.client.Scan(ctx, 0, presenceScanPattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := p.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return p.client.Del(ctx, keys...).Err()
	}
	return nil
}
