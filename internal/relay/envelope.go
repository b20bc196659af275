package relay

import (
	"encoding/json"
	"log/slog"
)

// EventType is the `type` discriminator carried by every text frame.
type EventType string

// Inbound event types (client -> relay).
const (
	EventSubscribe      EventType = "SUBSCRIBE"
	EventUnsubscribe    EventType = "UNSUBSCRIBE"
	EventSendMessage    EventType = "sendMessage"
	EventUserJoin       EventType = "USER_JOIN"
	EventUserLeave      EventType = "USER_LEAVE"
	EventHeartbeat      EventType = "HEARTBEAT"
	EventUserTyping     EventType = "USER_TYPING"
	EventUserStopTyping EventType = "USER_STOP_TYPING"
)

// Outbound event types (relay -> client). USER_TYPING and USER_STOP_TYPING
// are relayed under the same type they arrived with.
const (
	EventReceiverMessage EventType = "RECEIVER_MESSAGE"
	EventUserJoined      EventType = "USER_JOINED"
	EventUserLeft        EventType = "USER_LEFT"
	EventUserOnline      EventType = "USER_ONLINE"
	EventUserOffline     EventType = "USER_OFFLINE"
)

// ChatMessage is the user-visible payload relayed between clients. The relay
// never inspects it beyond JSON round-tripping.
type ChatMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"userId"`
}

// Envelope is a typed JSON frame exchanged with clients and, for sendMessage,
// with the backbone. SUBSCRIBE/UNSUBSCRIBE address rooms via "room"; every
// other event uses "roomId".
type Envelope struct {
	Type     EventType    `json:"type"`
	Room     string       `json:"room,omitempty"`
	RoomID   string       `json:"roomId,omitempty"`
	Username string       `json:"username,omitempty"`
	Message  *ChatMessage `json:"message,omitempty"`
}

// encode serializes an envelope for delivery. A marshal failure is logged and
// yields nil, which Broadcast treats as a no-op.
func encode(env Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "type", env.Type, "error", err)
		return nil
	}
	return data
}

// presenceEnvelope builds the serialized form of the room/username events
// (USER_JOINED, USER_LEFT, USER_ONLINE, USER_OFFLINE, USER_TYPING,
// USER_STOP_TYPING).
func presenceEnvelope(t EventType, roomID, username string) []byte {
	return encode(Envelope{Type: t, RoomID: roomID, Username: username})
}
