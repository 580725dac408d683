package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"harbor-chat/internal/domain/participant"
	"harbor-chat/internal/domain/presence"
	"harbor-chat/internal/domain/room"
	"harbor-chat/internal/events"
	"harbor-chat/internal/repository"
	harbor_errors "harbor-chat/pkg/errors"
	"harbor-chat/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const previewMaxLen = 120

// GatewayService owns the connection lifecycle and event routing of the
// messaging core: it authenticates sessions, keeps the presence registry in
// step with connects/disconnects, reads and writes active-room state
// through the room cache, and flushes accumulated messages to the durable
// store in ordered batches.
type GatewayService struct {
	cache        RoomCache
	presence     PresenceRegistry
	verifier     IdentityVerifier
	broadcaster  Broadcaster
	rooms        repository.RoomRepository
	participants repository.ParticipantRepository
	logger       *logger.Logger

	flushBatchSize      int64
	initialHistoryLimit int

	warm singleflight.Group

	// roomLocks serializes the append-broadcast-flush sequence per room.
	// Ordering within one room is a hard guarantee; across rooms sends
	// run freely in parallel.
	roomLocks sync.Map // uuid.UUID -> *sync.Mutex
}

type GatewayConfig struct {
	FlushBatchSize      int
	InitialHistoryLimit int
}

func NewGatewayService(
	cache RoomCache,
	presenceReg PresenceRegistry,
	verifier IdentityVerifier,
	broadcaster Broadcaster,
	rooms repository.RoomRepository,
	participants repository.ParticipantRepository,
	cfg GatewayConfig,
	l *logger.Logger,
) *GatewayService {
	if cfg.FlushBatchSize <= 0 {
		cfg.FlushBatchSize = 100
	}
	if cfg.InitialHistoryLimit <= 0 {
		cfg.InitialHistoryLimit = 50
	}
	return &GatewayService{
		cache:               cache,
		presence:            presenceReg,
		verifier:            verifier,
		broadcaster:         broadcaster,
		rooms:               rooms,
		participants:        participants,
		logger:              l,
		flushBatchSize:      int64(cfg.FlushBatchSize),
		initialHistoryLimit: cfg.InitialHistoryLimit,
	}
}

func (s *GatewayService) lockRoom(roomID uuid.UUID) func() {
	v, _ := s.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Connect authenticates a new transport session. On a bad or missing
// credential it fails with ErrUnauthorized and leaves no state behind. On
// success it lazily creates the participant, registers presence, and
// returns the initial-data payload: the caller's participant record plus
// every room it belongs to, hydrated with recent history.
func (s *GatewayService) Connect(ctx context.Context, sessionID, token string) (*events.InitialData, error) {
	identity, err := s.verifier.Verify(token)
	if err != nil {
		return nil, harbor_errors.ErrUnauthorized
	}

	p, err := s.participants.UpsertByIdentity(ctx, &participant.Participant{
		ID:              uuid.New(),
		UserIdentityRef: identity.Ref,
		DisplayName:     identity.DisplayName,
		AvatarURL:       identity.AvatarURL,
		ContactEmail:    identity.Email,
	})
	if err != nil {
		return nil, err
	}

	if err := s.presence.Register(ctx, &presence.Entry{
		SessionID:     sessionID,
		Identity:      identity.Ref,
		ParticipantID: p.ID,
	}); err != nil {
		return nil, err
	}

	userRooms, err := s.rooms.GetRoomsByParticipant(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	wireRooms := make([]events.Room, 0, len(userRooms))
	for i := range userRooms {
		r := &userRooms[i]
		members, err := s.participants.GetByRoom(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		history, err := s.roomHistory(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		wireRooms = append(wireRooms, events.FromRoom(r, members, history))
	}

	s.logger.Infof("session %s connected as participant %s", sessionID, p.ID)

	return &events.InitialData{
		UserRooms:   wireRooms,
		Participant: events.FromParticipant(p),
	}, nil
}

// Disconnect removes the session's presence entry. Presence is advisory,
// so no one else is notified.
func (s *GatewayService) Disconnect(ctx context.Context, sessionID string) {
	if err := s.presence.Unregister(ctx, sessionID); err != nil {
		s.logger.Warnf("presence unregister for session %s: %v", sessionID, err)
	}
	s.logger.Infof("session %s disconnected", sessionID)
}

// JoinRoom subscribes a session to a room's fan-out group, warming the
// cache from the durable store if the room is cold. Joining the room the
// session is already in is a no-op beyond re-subscription; joining a
// different room leaves the previous one first.
func (s *GatewayService) JoinRoom(ctx context.Context, sessionID string, roomID uuid.UUID) error {
	entry, err := s.sessionEntry(ctx, sessionID)
	if err != nil {
		return err
	}

	if _, err := s.ensureCached(ctx, roomID); err != nil {
		return err
	}

	if entry.CurrentRoomID != "" && entry.CurrentRoomID != roomID.String() {
		if prev, perr := uuid.Parse(entry.CurrentRoomID); perr == nil {
			s.broadcaster.Unsubscribe(sessionID, prev)
			s.setOnline(ctx, prev, entry.ParticipantID, false)
			s.maybeEvict(ctx, prev)
		}
	}

	s.broadcaster.Subscribe(sessionID, roomID)
	s.setOnline(ctx, roomID, entry.ParticipantID, true)
	return s.presence.SetCurrentRoom(ctx, sessionID, roomID.String())
}

// LeaveRoom unsubscribes the session. When the room's fan-out group goes
// empty and nothing is left unflushed, the working set is evicted; the
// durable store remains the source of truth either way.
func (s *GatewayService) LeaveRoom(ctx context.Context, sessionID string, roomID uuid.UUID) error {
	entry, err := s.sessionEntry(ctx, sessionID)
	if err != nil {
		return err
	}

	s.broadcaster.Unsubscribe(sessionID, roomID)
	s.setOnline(ctx, roomID, entry.ParticipantID, false)
	if err := s.presence.ClearCurrentRoom(ctx, sessionID); err != nil {
		return err
	}

	s.maybeEvict(ctx, roomID)
	return nil
}

// CreateRoom persists a new room and notifies every listed participant
// that is currently online, point-to-point. Exactly two distinct
// participants make a private room, more make a group; the computed kind
// wins when the caller disagrees. A private pair that already has a room
// gets the existing room back instead of a duplicate.
func (s *GatewayService) CreateRoom(ctx context.Context, sessionID string, participantIDs []uuid.UUID, kindHint, name, imageURL string) (*events.Room, error) {
	if _, err := s.sessionEntry(ctx, sessionID); err != nil {
		return nil, err
	}

	distinct := dedupeIDs(participantIDs)
	if len(distinct) < 2 {
		return nil, harbor_errors.ErrInvalidRoomSize
	}

	kind := room.KindForCount(len(distinct))
	if kindHint != "" && kindHint != kind {
		s.logger.Debugf("create-room kind hint %q overridden by computed %q", kindHint, kind)
	}
	if kind == room.KindGroup && name == "" {
		return nil, harbor_errors.ErrInvalidInput
	}

	now := time.Now()
	r := &room.Room{
		ID:        uuid.New(),
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name != "" {
		r.Name = sql.NullString{String: name, Valid: true}
	}
	if imageURL != "" {
		r.ImageURL = sql.NullString{String: imageURL, Valid: true}
	}
	if kind == room.KindPrivate {
		r.PairKey = sql.NullString{String: room.PairKeyFor(distinct[0], distinct[1]), Valid: true}
	}

	stored, err := s.rooms.CreateRoom(ctx, r, distinct)
	dedupe := errors.Is(err, harbor_errors.ErrAlreadyExists)
	if err != nil && !dedupe {
		return nil, err
	}

	members, err := s.participants.GetManyByID(ctx, distinct)
	if err != nil {
		return nil, err
	}
	if len(members) != len(distinct) {
		return nil, harbor_errors.ErrNotFound
	}

	if !dedupe {
		if err := s.cache.Put(ctx, stored.ID, &room.CachedState{
			Kind:         stored.Kind,
			Participants: distinct,
		}); err != nil {
			s.logger.Warnf("cache init for room %s: %v", stored.ID, err)
		}
	}

	wire := events.FromRoom(stored, members, nil)

	if !dedupe {
		s.notifyRoomCreated(ctx, sessionID, members, &wire)
	}

	return &wire, nil
}

// notifyRoomCreated delivers the room-created event to every online
// session of the listed participants, except the creating session, which
// receives the room synchronously. The participant directory bridges
// participant ids to user identities; presence only speaks identities.
func (s *GatewayService) notifyRoomCreated(ctx context.Context, creatorSessionID string, members []participant.Participant, wire *events.Room) {
	payload := events.Encode(events.ServerRoomCreated, wire)
	for i := range members {
		sessions, err := s.presence.SessionsByIdentity(ctx, members[i].UserIdentityRef)
		if err != nil {
			s.logger.Warnf("presence lookup for %s: %v", members[i].UserIdentityRef, err)
			continue
		}
		for _, sid := range sessions {
			if sid == creatorSessionID {
				continue
			}
			s.broadcaster.SendToSession(sid, payload)
		}
	}
}

// SendMessage accepts a message for a room, appends it to the cached tail,
// fans it out to every subscribed session (sender included), and flushes
// the unflushed tail to the durable store once the batch threshold is
// reached. The append-broadcast-flush sequence is serialized per room, and
// the flush never blocks the fan-out: the broadcast has already happened
// when the durable write starts.
func (s *GatewayService) SendMessage(ctx context.Context, sessionID string, roomID uuid.UUID, content, contentType string) (*room.Message, error) {
	entry, err := s.sessionEntry(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = room.ContentText
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	if _, err := s.ensureCached(ctx, roomID); err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &room.Message{
		ID:                  uuid.New(),
		RoomID:              roomID,
		SenderParticipantID: entry.ParticipantID,
		Content:             content,
		ContentType:         contentType,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	count, err := s.cache.AppendMessage(ctx, roomID, msg)
	if err != nil {
		return nil, err
	}

	s.broadcaster.BroadcastToRoom(roomID, events.Encode(events.ServerMessage, events.MessagePayload{
		Message: events.FromMessage(msg),
		RoomID:  roomID,
	}))

	if count >= s.flushBatchSize {
		s.flushLocked(ctx, roomID, count)
	}

	return msg, nil
}

// flushLocked writes the unflushed tail to the durable store in append
// order. Callers must hold the room lock. A failed flush is logged and the
// counter left untouched, so the next threshold crossing (or shutdown)
// retries it; messages are delayed, never dropped.
func (s *GatewayService) flushLocked(ctx context.Context, roomID uuid.UUID, count int64) {
	tail, err := s.cache.UnflushedTail(ctx, roomID, count)
	if err != nil {
		s.logger.Errorf("flush read for room %s: %v", roomID, err)
		return
	}
	if len(tail) == 0 {
		return
	}

	if err := s.rooms.AppendMessages(ctx, roomID, tail); err != nil {
		s.logger.Errorf("flush write for room %s (%d messages): %v", roomID, len(tail), err)
		return
	}

	if err := s.cache.MarkFlushed(ctx, roomID, int64(len(tail))); err != nil {
		s.logger.Errorf("flush ack for room %s: %v", roomID, err)
	}

	newest := tail[len(tail)-1]
	if err := s.rooms.UpdateLastPreview(ctx, roomID, preview(newest.Content)); err != nil {
		s.logger.Warnf("preview update for room %s: %v", roomID, err)
	}

	s.logger.Infof("flushed %d messages for room %s", len(tail), roomID)
}

// FlushRoom forces a durable write of whatever the room has accumulated,
// regardless of threshold. Used on shutdown and by eviction.
func (s *GatewayService) FlushRoom(ctx context.Context, roomID uuid.UUID) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	count, err := s.cache.UnflushedCount(ctx, roomID)
	if err != nil {
		s.logger.Errorf("unflushed count for room %s: %v", roomID, err)
		return
	}
	if count > 0 {
		s.flushLocked(ctx, roomID, count)
	}
}

// FlushAll drains every active room. Called on graceful shutdown.
func (s *GatewayService) FlushAll(ctx context.Context) {
	roomIDs, err := s.cache.ActiveRooms(ctx)
	if err != nil {
		s.logger.Errorf("active rooms scan: %v", err)
		return
	}
	for _, id := range roomIDs {
		s.FlushRoom(ctx, id)
	}
}

// GetRoomMessages returns the most recent history for a room: the cached
// tail when the room is hot, a durable page otherwise. Never mutates
// cache or store.
func (s *GatewayService) GetRoomMessages(ctx context.Context, sessionID string, roomID uuid.UUID) ([]events.Message, error) {
	if _, err := s.sessionEntry(ctx, sessionID); err != nil {
		return nil, err
	}

	return s.History(ctx, roomID)
}

// History is the sessionless read used by the REST fallback route. Same
// semantics as GetRoomMessages: hot tail if cached, durable page
// otherwise, no mutation.
func (s *GatewayService) History(ctx context.Context, roomID uuid.UUID) ([]events.Message, error) {
	state, err := s.cache.Get(ctx, roomID)
	if err == nil && state != nil {
		return events.FromMessages(state.Tail), nil
	}

	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, harbor_errors.ErrNotFound) {
			return nil, harbor_errors.ErrRoomNotFound
		}
		return nil, err
	}
	history, err := s.rooms.GetRecentMessages(ctx, roomID, s.initialHistoryLimit)
	if err != nil {
		return nil, err
	}
	return events.FromMessages(history), nil
}

// EditMessage flips the edited flag and replaces the content, then
// broadcasts the updated message. The cached copy is rewritten in place;
// if the message is still unflushed the durable update is deferred to the
// flush that will carry it.
func (s *GatewayService) EditMessage(ctx context.Context, sessionID string, roomID, messageID uuid.UUID, content string) error {
	return s.updateMessage(ctx, sessionID, roomID, messageID, content, true, false)
}

// DeleteMessage soft-deletes a message; the row is never physically
// removed.
func (s *GatewayService) DeleteMessage(ctx context.Context, sessionID string, roomID, messageID uuid.UUID) error {
	return s.updateMessage(ctx, sessionID, roomID, messageID, "", false, true)
}

func (s *GatewayService) updateMessage(ctx context.Context, sessionID string, roomID, messageID uuid.UUID, content string, edited, deleted bool) error {
	entry, err := s.sessionEntry(ctx, sessionID)
	if err != nil {
		return err
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	state, err := s.cache.Get(ctx, roomID)
	if err != nil {
		return err
	}

	var updated *room.Message
	if state != nil {
		for i := range state.Tail {
			if state.Tail[i].ID == messageID {
				m := state.Tail[i]
				if m.SenderParticipantID != entry.ParticipantID {
					return harbor_errors.ErrForbidden
				}
				if edited {
					m.Content = content
					m.IsEdited = true
				}
				if deleted {
					m.IsDeleted = true
				}
				m.UpdatedAt = time.Now()
				if _, err := s.cache.UpdateMessage(ctx, roomID, &m); err != nil {
					return err
				}
				updated = &m
				break
			}
		}
	}

	if updated == nil {
		// Not in the working set; the durable row is the authority. The
		// ownership check must happen here too, or an evicted room would
		// let any session rewrite someone else's message.
		stored, err := s.rooms.GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if stored.RoomID != roomID {
			return harbor_errors.ErrNotFound
		}
		if stored.SenderParticipantID != entry.ParticipantID {
			return harbor_errors.ErrForbidden
		}
		if edited {
			stored.Content = content
			stored.IsEdited = true
		}
		if deleted {
			stored.IsDeleted = true
		}
		stored.UpdatedAt = time.Now()
		updated = stored
	}

	// ErrNotFound here means the message is still unflushed; the flush that
	// carries it will persist the updated cached copy.
	err = s.rooms.SetMessageFlags(ctx, messageID, content, edited, deleted)
	if err != nil && !errors.Is(err, harbor_errors.ErrNotFound) {
		return err
	}

	s.broadcaster.BroadcastToRoom(roomID, events.Encode(events.ServerMessageUpdated, events.MessagePayload{
		Message: events.FromMessage(updated),
		RoomID:  roomID,
	}))
	return nil
}

// Typing fans out an advisory typing indicator. Nothing is persisted.
func (s *GatewayService) Typing(ctx context.Context, sessionID string, roomID uuid.UUID, active bool) error {
	entry, err := s.sessionEntry(ctx, sessionID)
	if err != nil {
		return err
	}
	s.broadcaster.BroadcastToRoom(roomID, events.Encode(events.ServerTyping, events.TypingPayload{
		RoomID:        roomID,
		ParticipantID: entry.ParticipantID,
		Active:        active,
	}))
	return nil
}

// Reset clears the presence registry. Called once at process start.
func (s *GatewayService) Reset(ctx context.Context) error {
	return s.presence.Reset(ctx)
}

// ensureCached returns the room's working set, warming it from the durable
// store on a miss. Concurrent warms for the same room collapse into a
// single durable read via singleflight.
func (s *GatewayService) ensureCached(ctx context.Context, roomID uuid.UUID) (*room.CachedState, error) {
	state, err := s.cache.Get(ctx, roomID)
	if err != nil {
		s.logger.Warnf("cache read for room %s: %v", roomID, err)
	}
	if state != nil {
		return state, nil
	}

	v, err, _ := s.warm.Do(roomID.String(), func() (interface{}, error) {
		if state, err := s.cache.Get(ctx, roomID); err == nil && state != nil {
			return state, nil
		}

		r, err := s.rooms.GetRoom(ctx, roomID)
		if err != nil {
			if errors.Is(err, harbor_errors.ErrNotFound) {
				return nil, harbor_errors.ErrRoomNotFound
			}
			return nil, err
		}
		memberIDs, err := s.rooms.GetParticipantIDs(ctx, roomID)
		if err != nil {
			return nil, err
		}
		history, err := s.rooms.GetRecentMessages(ctx, roomID, s.initialHistoryLimit)
		if err != nil {
			return nil, err
		}

		fresh := &room.CachedState{
			Kind:         r.Kind,
			Participants: memberIDs,
			Tail:         history,
		}
		if len(history) > 0 {
			fresh.LastMessage = &history[0]
		}
		if err := s.cache.Put(ctx, roomID, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*room.CachedState), nil
}

// setOnline updates the advisory online set for a room. Failures are
// logged only; the set is display bookkeeping, never a delivery input.
func (s *GatewayService) setOnline(ctx context.Context, roomID, participantID uuid.UUID, online bool) {
	if err := s.cache.SetOnline(ctx, roomID, participantID, online); err != nil {
		s.logger.Warnf("online bookkeeping for room %s: %v", roomID, err)
	}
}

// maybeEvict drops a room's working set once its fan-out group is empty,
// flushing first so nothing unflushed is lost. Eviction is advisory; a
// later join just re-warms.
func (s *GatewayService) maybeEvict(ctx context.Context, roomID uuid.UUID) {
	if s.broadcaster.RoomSubscriberCount(roomID) > 0 {
		return
	}

	s.FlushRoom(ctx, roomID)

	count, err := s.cache.UnflushedCount(ctx, roomID)
	if err != nil || count > 0 {
		return
	}
	if err := s.cache.Evict(ctx, roomID); err != nil {
		s.logger.Warnf("evict room %s: %v", roomID, err)
	}
}

// roomHistory reads recent history, preferring the hot tail.
func (s *GatewayService) roomHistory(ctx context.Context, roomID uuid.UUID) ([]room.Message, error) {
	state, err := s.cache.Get(ctx, roomID)
	if err == nil && state != nil {
		return state.Tail, nil
	}
	return s.rooms.GetRecentMessages(ctx, roomID, s.initialHistoryLimit)
}

func (s *GatewayService) sessionEntry(ctx context.Context, sessionID string) (*presence.Entry, error) {
	entry, err := s.presence.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, harbor_errors.ErrUnauthorized
	}
	return entry, nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// preview truncates on a rune boundary so the stored column is always
// valid UTF-8.
func preview(content string) string {
	if len(content) <= previewMaxLen {
		return content
	}
	cut := previewMaxLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
