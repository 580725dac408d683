package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"harbor-chat/internal/domain/room"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - room:{room_id}:meta      - JSON participant list + kind
// - room:{room_id}:tail      - list of message JSON, newest first, trimmed
// - room:{room_id}:last      - JSON of the newest message
// - room:{room_id}:unflushed - counter of messages not yet in the room store
// - room:{room_id}:online    - set of participant ids with a subscribed session
// - rooms:active             - set of room ids with a live working set

const activeRoomsKey = "rooms:active"

// RoomCacheStore holds the working set of active rooms in Redis. Every
// mutation runs inside MULTI/EXEC so the store stays consistent when more
// than one gateway process shares it.
type RoomCacheStore struct {
	client    *goredis.Client
	tailLimit int
}

// NewRoomCacheStore creates a room cache. tailLimit bounds the cached
// history tail and must be at least the flush batch size.
func NewRoomCacheStore(client *goredis.Client, tailLimit int) *RoomCacheStore {
	return &RoomCacheStore{
		client:    client,
		tailLimit: tailLimit,
	}
}

type roomMeta struct {
	Kind         string      `json:"kind"`
	Participants []uuid.UUID `json:"participants"`
}

func metaKey(roomID uuid.UUID) string      { return fmt.Sprintf("room:%s:meta", roomID) }
func tailKey(roomID uuid.UUID) string      { return fmt.Sprintf("room:%s:tail", roomID) }
func lastKey(roomID uuid.UUID) string      { return fmt.Sprintf("room:%s:last", roomID) }
func unflushedKey(roomID uuid.UUID) string { return fmt.Sprintf("room:%s:unflushed", roomID) }
func onlineKey(roomID uuid.UUID) string    { return fmt.Sprintf("room:%s:online", roomID) }

// Get retrieves the working set for a room. Returns nil on cache miss.
func (c *RoomCacheStore) Get(ctx context.Context, roomID uuid.UUID) (*room.CachedState, error) {
	pipe := c.client.Pipeline()
	metaCmd := pipe.Get(ctx, metaKey(roomID))
	tailCmd := pipe.LRange(ctx, tailKey(roomID), 0, int64(c.tailLimit)-1)
	lastCmd := pipe.Get(ctx, lastKey(roomID))
	countCmd := pipe.Get(ctx, unflushedKey(roomID))
	onlineCmd := pipe.SMembers(ctx, onlineKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, err
	}

	metaRaw, err := metaCmd.Result()
	if err == goredis.Nil {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var meta roomMeta
	if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
		return nil, err
	}

	state := &room.CachedState{
		Kind:         meta.Kind,
		Participants: meta.Participants,
	}

	for _, raw := range tailCmd.Val() {
		var m room.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		state.Tail = append(state.Tail, m)
	}

	if lastRaw, err := lastCmd.Result(); err == nil {
		var last room.Message
		if err := json.Unmarshal([]byte(lastRaw), &last); err == nil {
			state.LastMessage = &last
		}
	}

	if n, err := countCmd.Int64(); err == nil {
		state.UnflushedCount = n
	}

	for _, raw := range onlineCmd.Val() {
		if id, err := uuid.Parse(raw); err == nil {
			state.OnlineParticipantIDs = append(state.OnlineParticipantIDs, id)
		}
	}

	return state, nil
}

// Put replaces the working set for a room. Used when warming a cold room
// from the durable store; the unflushed counter is reset to the state's
// count (zero for a freshly warmed room).
func (c *RoomCacheStore) Put(ctx context.Context, roomID uuid.UUID, state *room.CachedState) error {
	metaRaw, err := json.Marshal(roomMeta{Kind: state.Kind, Participants: state.Participants})
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, metaKey(roomID), metaRaw, 0)
		pipe.Del(ctx, tailKey(roomID))
		// state.Tail is newest first; RPush keeps index 0 the newest.
		for _, m := range state.Tail {
			raw, err := json.Marshal(m)
			if err != nil {
				return err
			}
			pipe.RPush(ctx, tailKey(roomID), raw)
		}
		if state.LastMessage != nil {
			raw, err := json.Marshal(state.LastMessage)
			if err != nil {
				return err
			}
			pipe.Set(ctx, lastKey(roomID), raw, 0)
		} else {
			pipe.Del(ctx, lastKey(roomID))
		}
		pipe.Set(ctx, unflushedKey(roomID), state.UnflushedCount, 0)
		pipe.SAdd(ctx, activeRoomsKey, roomID.String())
		return nil
	})
	return err
}

// AppendMessage prepends a message to the room's tail and increments the
// unflushed counter, atomically, returning the new count. tailLimit >= the
// flush batch covers the normal case; when a store outage lets the
// unflushed run grow to the tail bound, the trim is suspended so rows the
// flush still owes the store are never cut. Appends to one room are
// serialized by the caller, so the counter pre-read is stable.
func (c *RoomCacheStore) AppendMessage(ctx context.Context, roomID uuid.UUID, m *room.Message) (int64, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}

	unflushed, err := c.client.Get(ctx, unflushedKey(roomID)).Int64()
	if err != nil && err != goredis.Nil {
		return 0, err
	}

	var incr *goredis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, tailKey(roomID), raw)
		if unflushed+1 < int64(c.tailLimit) {
			pipe.LTrim(ctx, tailKey(roomID), 0, int64(c.tailLimit)-1)
		}
		pipe.Set(ctx, lastKey(roomID), raw, 0)
		pipe.SAdd(ctx, activeRoomsKey, roomID.String())
		incr = pipe.Incr(ctx, unflushedKey(roomID))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// UpdateMessage rewrites the cached copy of a message in place (soft edit
// or delete flags). Returns false when the message is not in the tail.
func (c *RoomCacheStore) UpdateMessage(ctx context.Context, roomID uuid.UUID, m *room.Message) (bool, error) {
	raws, err := c.client.LRange(ctx, tailKey(roomID), 0, int64(c.tailLimit)-1).Result()
	if err != nil {
		return false, err
	}
	for i, raw := range raws {
		var cur room.Message
		if err := json.Unmarshal([]byte(raw), &cur); err != nil {
			continue
		}
		if cur.ID != m.ID {
			continue
		}
		updated, err := json.Marshal(m)
		if err != nil {
			return false, err
		}
		_, err = c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LSet(ctx, tailKey(roomID), int64(i), updated)
			if i == 0 {
				pipe.Set(ctx, lastKey(roomID), updated, 0)
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// UnflushedTail returns the n most recent messages in append order (oldest
// first), ready to hand to the durable store.
func (c *RoomCacheStore) UnflushedTail(ctx context.Context, roomID uuid.UUID, n int64) ([]room.Message, error) {
	raws, err := c.client.LRange(ctx, tailKey(roomID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	messages := make([]room.Message, 0, len(raws))
	// The tail is newest first; walk backwards to restore append order.
	for i := len(raws) - 1; i >= 0; i-- {
		var m room.Message
		if err := json.Unmarshal([]byte(raws[i]), &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// MarkFlushed decrements the unflushed counter after a successful durable
// write of n messages.
func (c *RoomCacheStore) MarkFlushed(ctx context.Context, roomID uuid.UUID, n int64) error {
	return c.client.DecrBy(ctx, unflushedKey(roomID), n).Err()
}

// UnflushedCount reads the current unflushed counter.
func (c *RoomCacheStore) UnflushedCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	n, err := c.client.Get(ctx, unflushedKey(roomID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return n, err
}

// SetOnline maintains the advisory per-room online set as sessions
// subscribe and unsubscribe. Best effort; never consulted for delivery.
func (c *RoomCacheStore) SetOnline(ctx context.Context, roomID, participantID uuid.UUID, online bool) error {
	if online {
		return c.client.SAdd(ctx, onlineKey(roomID), participantID.String()).Err()
	}
	return c.client.SRem(ctx, onlineKey(roomID), participantID.String()).Err()
}

// Evict drops a room's working set. Callers must only evict rooms with a
// zero unflushed counter; the store is the source of truth for the rest.
func (c *RoomCacheStore) Evict(ctx context.Context, roomID uuid.UUID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, metaKey(roomID), tailKey(roomID), lastKey(roomID), unflushedKey(roomID), onlineKey(roomID))
		pipe.SRem(ctx, activeRoomsKey, roomID.String())
		return nil
	})
	return err
}

// ActiveRooms lists rooms that currently have a working set. Used by the
// shutdown path to flush whatever is still dirty.
func (c *RoomCacheStore) ActiveRooms(ctx context.Context) ([]uuid.UUID, error) {
	members, err := c.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
