package server

import (
	"context"
	"errors"
	"net/http"

	"harbor-chat/internal/events"
	"harbor-chat/internal/services"
	"harbor-chat/internal/transport/httpdto"
	harbor_errors "harbor-chat/pkg/errors"
	"harbor-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler terminates client transport sessions and routes their
// decoded events into the gateway service.
type WebSocketHandler struct {
	gateway *services.GatewayService
	hub     *Hub
	logger  *logger.Logger
}

func NewWebSocketHandler(gateway *services.GatewayService, hub *Hub, l *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{gateway: gateway, hub: hub, logger: l}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Connect handles the websocket handshake. The credential is checked
// before the upgrade: an unauthenticated attempt gets a 401 and the
// connection is closed immediately with no event and no session state.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	sessionID := uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.SessionIdKey, sessionID)

	initial, err := h.gateway.Connect(ctx, sessionID, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.ErrorCtx(ctx, "websocket upgrade failed", zap.Error(err))
		h.gateway.Disconnect(ctx, sessionID)
		return
	}

	h.logger.InfoCtx(ctx, "websocket session established")

	client := NewClientWithID(sessionID, conn, h.logger)

	h.hub.Register(client)
	go client.writePump()

	client.enqueue(events.Encode(events.ServerInitialData, initial))

	client.readLoop(func(data []byte) {
		h.dispatch(ctx, client, data)
	})

	h.hub.Unregister(client)
	h.gateway.Disconnect(ctx, client.ID)
}

// dispatch routes one decoded client event. Failures are reported to the
// originating session only and never close the connection.
func (h *WebSocketHandler) dispatch(ctx context.Context, client *Client, data []byte) {
	ev, err := events.Decode(data)
	if err != nil {
		client.enqueue(events.EncodeError(err.Error()))
		return
	}

	switch e := ev.(type) {
	case events.JoinRoom:
		err = h.gateway.JoinRoom(ctx, client.ID, e.RoomID)

	case events.LeaveRoom:
		err = h.gateway.LeaveRoom(ctx, client.ID, e.RoomID)

	case events.CreateRoom:
		var created *events.Room
		created, err = h.gateway.CreateRoom(ctx, client.ID, e.ParticipantIDs, e.Kind, e.RoomName, e.RoomImg)
		if err == nil {
			// The creator gets the room synchronously; other online
			// participants got it point-to-point from the gateway.
			client.enqueue(events.Encode(events.ServerRoomCreated, created))
		}

	case events.SendMessage:
		_, err = h.gateway.SendMessage(ctx, client.ID, e.RoomID, e.Content, e.ContentType)

	case events.GetRoomMessages:
		var history []events.Message
		history, err = h.gateway.GetRoomMessages(ctx, client.ID, e.RoomID)
		if err == nil {
			client.enqueue(events.Encode(events.ServerGetRoomMessages, history))
		}

	case events.EditMessage:
		err = h.gateway.EditMessage(ctx, client.ID, e.RoomID, e.MessageID, e.Content)

	case events.DeleteMessage:
		err = h.gateway.DeleteMessage(ctx, client.ID, e.RoomID, e.MessageID)

	case events.Typing:
		err = h.gateway.Typing(ctx, client.ID, e.RoomID, e.Active)
	}

	if err != nil {
		client.enqueue(events.EncodeError(wireError(err)))
	}
}

// wireError maps an operation failure to the string carried by the error
// event. Known sentinels pass through; anything else stays opaque.
func wireError(err error) string {
	switch {
	case errors.Is(err, harbor_errors.ErrRoomNotFound),
		errors.Is(err, harbor_errors.ErrInvalidRoomSize),
		errors.Is(err, harbor_errors.ErrUnauthorized),
		errors.Is(err, harbor_errors.ErrForbidden),
		errors.Is(err, harbor_errors.ErrInvalidInput),
		errors.Is(err, harbor_errors.ErrNotFound):
		return err.Error()
	default:
		return "internal error"
	}
}
