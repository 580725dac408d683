package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"harbor-chat/internal/domain/participant"
	"harbor-chat/internal/domain/presence"
	"harbor-chat/internal/domain/room"
	"harbor-chat/internal/services"
	harbor_errors "harbor-chat/pkg/errors"

	"github.com/google/uuid"
)

// In-memory collaborators for gateway tests. They mirror the contracts of
// the Redis and Postgres implementations closely enough to exercise the
// orchestration logic without either backend.

type fakeCache struct {
	mu     sync.Mutex
	states map[uuid.UUID]*room.CachedState
	limit  int
}

func newFakeCache(limit int) *fakeCache {
	return &fakeCache{states: make(map[uuid.UUID]*room.CachedState), limit: limit}
}

func (c *fakeCache) Get(_ context.Context, roomID uuid.UUID) (*room.CachedState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[roomID]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.Tail = append([]room.Message(nil), st.Tail...)
	cp.OnlineParticipantIDs = append([]uuid.UUID(nil), st.OnlineParticipantIDs...)
	return &cp, nil
}

func (c *fakeCache) Put(_ context.Context, roomID uuid.UUID, state *room.CachedState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *state
	cp.Tail = append([]room.Message(nil), state.Tail...)
	c.states[roomID] = &cp
	return nil
}

func (c *fakeCache) AppendMessage(_ context.Context, roomID uuid.UUID, m *room.Message) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[roomID]
	if !ok {
		st = &room.CachedState{}
		c.states[roomID] = st
	}
	st.Tail = append([]room.Message{*m}, st.Tail...)
	st.LastMessage = m
	st.UnflushedCount++
	// The trim is suspended while the unflushed backlog reaches the tail
	// bound, matching the Redis store.
	if st.UnflushedCount < int64(c.limit) && len(st.Tail) > c.limit {
		st.Tail = st.Tail[:c.limit]
	}
	return st.UnflushedCount, nil
}

func (c *fakeCache) UpdateMessage(_ context.Context, roomID uuid.UUID, m *room.Message) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[roomID]
	if !ok {
		return false, nil
	}
	for i := range st.Tail {
		if st.Tail[i].ID == m.ID {
			st.Tail[i] = *m
			if i == 0 {
				st.LastMessage = m
			}
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeCache) UnflushedTail(_ context.Context, roomID uuid.UUID, n int64) ([]room.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[roomID]
	if !ok {
		return nil, nil
	}
	if n > int64(len(st.Tail)) {
		n = int64(len(st.Tail))
	}
	out := make([]room.Message, 0, n)
	for i := int(n) - 1; i >= 0; i-- {
		out = append(out, st.Tail[i])
	}
	return out, nil
}

func (c *fakeCache) MarkFlushed(_ context.Context, roomID uuid.UUID, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[roomID]; ok {
		st.UnflushedCount -= n
	}
	return nil
}

func (c *fakeCache) UnflushedCount(_ context.Context, roomID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[roomID]; ok {
		return st.UnflushedCount, nil
	}
	return 0, nil
}

func (c *fakeCache) SetOnline(_ context.Context, roomID, participantID uuid.UUID, online bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[roomID]
	if !ok {
		return nil
	}
	for i, id := range st.OnlineParticipantIDs {
		if id == participantID {
			if !online {
				st.OnlineParticipantIDs = append(st.OnlineParticipantIDs[:i], st.OnlineParticipantIDs[i+1:]...)
			}
			return nil
		}
	}
	if online {
		st.OnlineParticipantIDs = append(st.OnlineParticipantIDs, participantID)
	}
	return nil
}

func (c *fakeCache) Evict(_ context.Context, roomID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, roomID)
	return nil
}

func (c *fakeCache) ActiveRooms(_ context.Context) ([]uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.states))
	for id := range c.states {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakePresence struct {
	mu      sync.Mutex
	entries map[string]*presence.Entry
}

func newFakePresence() *fakePresence {
	return &fakePresence{entries: make(map[string]*presence.Entry)}
}

func (p *fakePresence) Register(_ context.Context, e *presence.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *e
	p.entries[e.SessionID] = &cp
	return nil
}

func (p *fakePresence) Unregister(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, sessionID)
	return nil
}

func (p *fakePresence) Session(_ context.Context, sessionID string) (*presence.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (p *fakePresence) SessionsByIdentity(_ context.Context, identity string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for sid, e := range p.entries {
		if e.Identity == identity {
			out = append(out, sid)
		}
	}
	return out, nil
}

func (p *fakePresence) SetCurrentRoom(_ context.Context, sessionID, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[sessionID]; ok {
		e.CurrentRoomID = roomID
	}
	return nil
}

func (p *fakePresence) ClearCurrentRoom(_ context.Context, sessionID string) error {
	return p.SetCurrentRoom(nil, sessionID, "")
}

func (p *fakePresence) Reset(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*presence.Entry)
	return nil
}

// fakeVerifier accepts any token of the form "token:<identity>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (*services.Identity, error) {
	const prefix = "token:"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return nil, harbor_errors.ErrUnauthorized
	}
	ref := token[len(prefix):]
	return &services.Identity{Ref: ref, DisplayName: "user " + ref}, nil
}

// fakeBroadcaster records deliveries per session for assertions.
type fakeBroadcaster struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]map[string]struct{}
	delivered map[string][][]byte
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		subs:      make(map[uuid.UUID]map[string]struct{}),
		delivered: make(map[string][][]byte),
	}
}

func (b *fakeBroadcaster) Subscribe(sessionID string, roomID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[string]struct{})
	}
	b.subs[roomID][sessionID] = struct{}{}
}

func (b *fakeBroadcaster) Unsubscribe(sessionID string, roomID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[roomID], sessionID)
}

func (b *fakeBroadcaster) BroadcastToRoom(roomID uuid.UUID, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sid := range b.subs[roomID] {
		b.delivered[sid] = append(b.delivered[sid], payload)
	}
}

func (b *fakeBroadcaster) SendToSession(sessionID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered[sessionID] = append(b.delivered[sessionID], payload)
}

func (b *fakeBroadcaster) RoomSubscriberCount(roomID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[roomID])
}

func (b *fakeBroadcaster) deliveredTo(sessionID string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.delivered[sessionID]...)
}

// fakeRoomRepo is an in-memory Room Store.
type fakeRoomRepo struct {
	mu       sync.Mutex
	rooms    map[uuid.UUID]*room.Room
	members  map[uuid.UUID][]uuid.UUID
	messages map[uuid.UUID][]room.Message
	batches  [][]room.Message

	failAppends int // fail this many AppendMessages calls, then succeed
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{
		rooms:    make(map[uuid.UUID]*room.Room),
		members:  make(map[uuid.UUID][]uuid.UUID),
		messages: make(map[uuid.UUID][]room.Message),
	}
}

func (r *fakeRoomRepo) CreateRoom(_ context.Context, rm *room.Room, participantIDs []uuid.UUID) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm.PairKey.Valid {
		for _, existing := range r.rooms {
			if existing.PairKey.Valid && existing.PairKey.String == rm.PairKey.String {
				cp := *existing
				return &cp, harbor_errors.ErrAlreadyExists
			}
		}
	}
	cp := *rm
	r.rooms[rm.ID] = &cp
	r.members[rm.ID] = append([]uuid.UUID(nil), participantIDs...)
	return rm, nil
}

func (r *fakeRoomRepo) GetRoom(_ context.Context, id uuid.UUID) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, harbor_errors.ErrNotFound
	}
	cp := *rm
	return &cp, nil
}

func (r *fakeRoomRepo) GetRoomsByParticipant(_ context.Context, participantID uuid.UUID) ([]room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []room.Room
	for id, ids := range r.members {
		for _, pid := range ids {
			if pid == participantID {
				out = append(out, *r.rooms[id])
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRoomRepo) GetParticipantIDs(_ context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.members[roomID]...), nil
}

func (r *fakeRoomRepo) AppendMessages(_ context.Context, roomID uuid.UUID, messages []room.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppends > 0 {
		r.failAppends--
		return harbor_errors.ErrStoreUnavailable
	}
	r.batches = append(r.batches, append([]room.Message(nil), messages...))
	r.messages[roomID] = append(r.messages[roomID], messages...)
	return nil
}

func (r *fakeRoomRepo) GetMessage(_ context.Context, messageID uuid.UUID) (*room.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				cp := msgs[i]
				return &cp, nil
			}
		}
	}
	return nil, harbor_errors.ErrNotFound
}

func (r *fakeRoomRepo) GetRecentMessages(_ context.Context, roomID uuid.UUID, limit int) ([]room.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.messages[roomID]
	out := make([]room.Message, 0, limit)
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (r *fakeRoomRepo) UpdateLastPreview(_ context.Context, roomID uuid.UUID, preview string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		rm.LastMessagePreview.String = preview
		rm.LastMessagePreview.Valid = preview != ""
	}
	return nil
}

func (r *fakeRoomRepo) SetMessageFlags(_ context.Context, messageID uuid.UUID, content string, edited, deleted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				if edited {
					msgs[i].Content = content
					msgs[i].IsEdited = true
				}
				if deleted {
					msgs[i].IsDeleted = true
				}
				return nil
			}
		}
	}
	return harbor_errors.ErrNotFound
}

func (r *fakeRoomRepo) previewOf(roomID uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm.LastMessagePreview.String
	}
	return ""
}

func (r *fakeRoomRepo) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *fakeRoomRepo) storedMessages(roomID uuid.UUID) []room.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]room.Message(nil), r.messages[roomID]...)
}

// fakeParticipantRepo is an in-memory Participant Directory.
type fakeParticipantRepo struct {
	mu         sync.Mutex
	byIdentity map[string]*participant.Participant
	byID       map[uuid.UUID]*participant.Participant
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{
		byIdentity: make(map[string]*participant.Participant),
		byID:       make(map[uuid.UUID]*participant.Participant),
	}
}

func (r *fakeParticipantRepo) UpsertByIdentity(_ context.Context, p *participant.Participant) (*participant.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byIdentity[p.UserIdentityRef]; ok {
		existing.DisplayName = p.DisplayName
		existing.AvatarURL = p.AvatarURL
		existing.ContactEmail = p.ContactEmail
		cp := *existing
		return &cp, nil
	}
	cp := *p
	r.byIdentity[p.UserIdentityRef] = &cp
	r.byID[p.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeParticipantRepo) GetByID(_ context.Context, id uuid.UUID) (*participant.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, harbor_errors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeParticipantRepo) GetManyByID(_ context.Context, ids []uuid.UUID) ([]participant.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]participant.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakeParticipantRepo) GetByRoom(_ context.Context, _ uuid.UUID) ([]participant.Participant, error) {
	return nil, nil
}

// decodeServerEvent unwraps a tagged server envelope for assertions.
func decodeServerEvent(t *testing.T, payload []byte) (string, json.RawMessage) {
	t.Helper()
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("decode server event: %v", err)
	}
	return env.Type, env.Payload
}
