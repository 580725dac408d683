package server

import (
	"sync"

	"github.com/google/uuid"
)

// Hub owns the set of live transport sessions and the per-room fan-out
// groups. All methods are safe for concurrent use; a session's membership
// in a room group is a set, so subscribing twice leaves exactly one
// subscription.
type Hub struct {
	mu sync.RWMutex

	// clients maps session id to client
	clients map[string]*Client

	// rooms maps room id to the set of clients subscribed to it
	rooms map[uuid.UUID]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// Register adds a newly connected client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

// Unregister removes a client and all its room subscriptions, and closes
// its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	for roomID := range client.rooms {
		if subscribers, ok := h.rooms[roomID]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}

	delete(h.clients, client.ID)
	close(client.send)
}

// Subscribe adds a session to a room's fan-out group. Unknown sessions are
// ignored; a disconnect may race a join.
func (h *Hub) Subscribe(sessionID string, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	client.rooms[roomID] = true
}

// Unsubscribe removes a session from a room's fan-out group.
func (h *Hub) Unsubscribe(sessionID string, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return
	}
	if subscribers, ok := h.rooms[roomID]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(client.rooms, roomID)
}

// BroadcastToRoom delivers a payload to every session subscribed to the
// room. Delivery per client is non-blocking; a full buffer drops the frame
// and the client recovers through history on its next join.
func (h *Hub) BroadcastToRoom(roomID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[roomID] {
		client.enqueue(payload)
	}
}

// SendToSession delivers a payload to one session only. The lock is held
// across the enqueue: Unregister closes the send channel under the write
// lock, so releasing early would let the close race the channel send.
func (h *Hub) SendToSession(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.clients[sessionID]; ok {
		client.enqueue(payload)
	}
}

// RoomSubscriberCount reports the size of a room's fan-out group.
func (h *Hub) RoomSubscriberCount(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// ClientCount reports the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
