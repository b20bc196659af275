package relay

import (
	"encoding/json"
	"log/slog"
)

// dispatch parses one inbound text frame and routes it to the owning
// component. Malformed frames are logged and dropped without closing the
// connection; unrecognized types are a silent no-op so newer clients keep
// working against older relays.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Error("Dropping malformed frame", "clientID", c.id, "error", err)
		return
	}

	switch env.Type {
	case EventSubscribe:
		if env.Room == "" {
			slog.Error("Dropping SUBSCRIBE without room", "clientID", c.id)
			return
		}
		h.AddRoom(c.id, env.Room)

	case EventUnsubscribe:
		if env.Room == "" {
			slog.Error("Dropping UNSUBSCRIBE without room", "clientID", c.id)
			return
		}
		h.RemoveRoom(c.id, env.Room)

	case EventSendMessage:
		if env.RoomID == "" || env.Message == nil {
			slog.Error("Dropping sendMessage without roomId or message", "clientID", c.id)
			return
		}
		if h.bridge != nil {
			h.bridge.Publish(env.RoomID, env.Message)
		}

	case EventUserJoin:
		if env.RoomID == "" || env.Username == "" {
			slog.Error("Dropping USER_JOIN without roomId or username", "clientID", c.id)
			return
		}
		h.SetUsername(c.id, env.Username)
		if h.presence != nil {
			h.presence.Join(env.RoomID, env.Username)
		}

	case EventUserLeave:
		if env.RoomID == "" || env.Username == "" {
			slog.Error("Dropping USER_LEAVE without roomId or username", "clientID", c.id)
			return
		}
		if h.presence != nil {
			h.presence.Leave(env.RoomID, env.Username)
		}

	case EventHeartbeat:
		if env.RoomID == "" || env.Username == "" {
			slog.Error("Dropping HEARTBEAT without roomId or username", "clientID", c.id)
			return
		}
		if h.presence != nil {
			h.presence.Heartbeat(env.RoomID, env.Username)
		}

	case EventUserTyping:
		if env.RoomID == "" || env.Username == "" {
			slog.Error("Dropping USER_TYPING without roomId or username", "clientID", c.id)
			return
		}
		h.typing.Start(env.RoomID, env.Username, c.id)

	case EventUserStopTyping:
		if env.RoomID == "" || env.Username == "" {
			slog.Error("Dropping USER_STOP_TYPING without roomId or username", "clientID", c.id)
			return
		}
		h.typing.Stop(env.RoomID, env.Username, c.id)

	default:
		// Unknown message types are ignored for forward compatibility.
	}
}
