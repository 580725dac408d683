package events

// Client-to-server event types. The set is closed: Decode rejects anything
// not listed here so the router can dispatch exhaustively.
const (
	ClientJoinRoom        = "join_room"
	ClientLeaveRoom       = "leave_room"
	ClientCreateRoom      = "create-room"
	ClientMessage         = "message"
	ClientGetRoomMessages = "get-room-messages"
	ClientEditMessage     = "edit-message"
	ClientDeleteMessage   = "delete-message"
	ClientTyping          = "typing"
)

// Server-to-client event types.
const (
	ServerInitialData     = "initial-data"
	ServerRoomCreated     = "room-created"
	ServerMessage         = "message"
	ServerGetRoomMessages = "get-room-messages"
	ServerMessageUpdated  = "message-updated"
	ServerTyping          = "typing"
	ServerError           = "error"
)
