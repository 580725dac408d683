package server

import (
	"time"

	"harbor-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one live transport session.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	// rooms is this client's subscription set, guarded by the hub's lock.
	rooms map[uuid.UUID]bool

	logger *logger.Logger
}

// NewClientWithID binds a client to a pre-allocated session id, so the
// session can be registered with the gateway before the upgrade completes.
func NewClientWithID(id string, conn *websocket.Conn, l *logger.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[uuid.UUID]bool),
		logger: l,
	}
}

// enqueue hands a frame to the write pump without ever blocking the
// sender. A slow consumer loses frames rather than stalling a room's
// append path; it catches up from history on the next join.
func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.logger.Warnf("send buffer full, dropping frame for session %s", c.ID)
	}
}

// writePump drains the send channel onto the connection and keeps the
// connection alive with pings. One per client; exits when the hub closes
// the send channel or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop pulls frames off the connection and hands them to handle until
// the peer goes away. Runs on the connection's goroutine.
func (c *Client) readLoop(handle func(data []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warnf("session %s closed unexpectedly: %v", c.ID, err)
			}
			return
		}
		handle(data)
	}
}
