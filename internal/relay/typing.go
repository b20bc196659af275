package relay

import (
	"github.com/gorilla/websocket"
)

// Typing relays ephemeral typing indicators. It keeps no state: debouncing
// and stop-after-inactivity policies belong to the sending client.
type Typing struct {
	local broadcaster
}

func NewTyping(local broadcaster) *Typing {
	return &Typing{local: local}
}

// Start announces USER_TYPING to everyone in the room except the sender.
func (t *Typing) Start(room, username, senderID string) {
	if room == "" || username == "" {
		return
	}
	t.local.Broadcast(room, websocket.TextMessage, presenceEnvelope(EventUserTyping, room, username), senderID)
}

// Stop announces USER_STOP_TYPING to everyone in the room except the sender.
func (t *Typing) Stop(room, username, senderID string) {
	if room == "" || username == "" {
		return
	}
	t.local.Broadcast(room, websocket.TextMessage, presenceEnvelope(EventUserStopTyping, room, username), senderID)
}
