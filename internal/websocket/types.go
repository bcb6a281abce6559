package websocket

import "encoding/json"

// Event types pushed to inbox clients. Rooms are keyed by channel id, so
// every operator watching a channel sees the same stream.
const (
	EventNewMessage          = "message.new"
	EventConversationUpdated = "conversation.updated"
	EventTyping              = "typing"
	EventConnectionStatus    = "connection.status"
)

// Client command actions sent over the socket.
const (
	ActionTyping   = "typing"
	ActionMarkRead = "mark_read"
)

type Room struct {
	Id      string               `json:"id"`
	Clients map[string]*WSClient `json:"clients"`
}

type Event struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId"`
	ChatKey   string          `json:"chatKey,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type ClientCommand struct {
	Action  string `json:"action"`
	ChatKey string `json:"chatKey"`
}

type RoomRes struct {
	ID string `json:"id"`
}

type ClientRes struct {
	ID string `json:"id"`
}
