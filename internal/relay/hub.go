package relay

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// broadcaster delivers an encoded frame to every local connection subscribed
// to a room. Implemented by *Hub; the presence tracker, typing coordinator,
// and bridge depend on this interface only.
type broadcaster interface {
	Broadcast(room string, messageType int, payload []byte, excludeID string) int
}

// messageBridge is the backbone surface the hub drives: upstream
// subscriptions opened and closed as rooms cross zero local subscribers, and
// message publishes. Implemented by *Bridge.
type messageBridge interface {
	Subscribe(room string)
	Unsubscribe(room string)
	Publish(room string, msg *ChatMessage)
}

// Hub is the connection registry. It owns every live client, each client's
// ordered room list, and the derived room -> clients index, all guarded by a
// single mutex so that membership changes and the bridge's subscribe and
// unsubscribe decisions are serialized (two clients racing a room's 0->1
// transition must not open two upstream subscriptions).
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Client
	rooms map[string]map[string]*Client

	bridge   messageBridge
	presence *Presence
	typing   *Typing
}

func NewHub() *Hub {
	h := &Hub{
		conns: make(map[string]*Client),
		rooms: make(map[string]map[string]*Client),
	}
	h.typing = NewTyping(h)
	return h
}

// SetBridge attaches the broadcast bridge. Must be called before any client
// is served; the hub and bridge reference each other, so wiring happens after
// both are constructed.
func (h *Hub) SetBridge(b messageBridge) {
	h.bridge = b
}

// SetPresence attaches the presence tracker used by the protocol dispatch.
func (h *Hub) SetPresence(p *Presence) {
	h.presence = p
}

// Register adds a freshly accepted client with an empty room list.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	slog.Info("Client registered", "clientID", c.id)
}

// AddRoom subscribes a client to a room. Idempotent: a room already on the
// client's list is a no-op. When the room gains its first local subscriber
// the bridge opens the upstream subscription, inside the same critical
// section as the membership change.
func (h *Hub) AddRoom(connectionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connectionID]
	if !ok {
		return
	}
	for _, r := range c.rooms {
		if r == room {
			return
		}
	}
	c.rooms = append(c.rooms, room)

	members := h.rooms[room]
	first := len(members) == 0
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[connectionID] = c

	slog.Debug("Client subscribed to room", "clientID", connectionID, "room", room)

	if first && h.bridge != nil {
		h.bridge.Subscribe(room)
	}
}

// RemoveRoom unsubscribes a client from a room. Idempotent: absence is a
// no-op. When the last local subscriber leaves, the bridge closes the
// upstream subscription under the same lock.
func (h *Hub) RemoveRoom(connectionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connectionID]
	if !ok {
		return
	}
	for i, r := range c.rooms {
		if r == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			h.dropFromIndex(connectionID, room)
			slog.Debug("Client unsubscribed from room", "clientID", connectionID, "room", room)
			return
		}
	}
}

// dropFromIndex removes a connection id from a room's index entry and tells
// the bridge when the room has emptied. Caller holds h.mu.
func (h *Hub) dropFromIndex(connectionID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.rooms, room)
		if h.bridge != nil {
			h.bridge.Unsubscribe(room)
		}
	}
}

// SetUsername binds a username to a connection. Last write wins; a client may
// rebind by sending another USER_JOIN.
func (h *Hub) SetUsername(connectionID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[connectionID]; ok {
		c.username = username
	}
}

// Deregister removes a client and all of its room memberships in one step,
// returning the rooms it was in and its username so the caller can drive the
// presence-offline broadcasts. Safe to call once per connection; a second
// call finds nothing and returns empty results.
func (h *Hub) Deregister(connectionID string) (rooms []string, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connectionID]
	if !ok {
		return nil, ""
	}
	delete(h.conns, connectionID)

	rooms = c.rooms
	c.rooms = nil
	username = c.username
	for _, room := range rooms {
		h.dropFromIndex(connectionID, room)
	}

	slog.Info("Client deregistered", "clientID", connectionID, "rooms", len(rooms))
	return rooms, username
}

// HasAnySubscriber reports whether at least one registered connection lists
// the room.
func (h *Hub) HasAnySubscriber(room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room]) > 0
}

// FirstRoom returns the earliest room the connection subscribed to and still
// holds, or "" when it holds none. Binary image frames are addressed to it.
func (h *Hub) FirstRoom(connectionID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[connectionID]
	if !ok || len(c.rooms) == 0 {
		return ""
	}
	return c.rooms[0]
}

// Broadcast sends a frame to every local connection subscribed to the room,
// skipping excludeID when non-empty. Sends are best-effort: a failed send is
// logged and the remaining recipients still receive the frame. Returns the
// number of successful sends.
func (h *Hub) Broadcast(room string, messageType int, payload []byte, excludeID string) int {
	if payload == nil {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id == excludeID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(messageType, payload); err != nil {
			slog.Warn("Skipping broadcast recipient", "clientID", c.id, "room", room, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// RelayImage forwards a raw binary frame to every other local connection in
// the sender's first subscribed room. Image frames never traverse the
// backbone, so this fan-out is local-instance only.
func (h *Hub) RelayImage(senderID string, data []byte) {
	room := h.FirstRoom(senderID)
	if room == "" {
		slog.Warn("Dropping image frame from client with no room", "clientID", senderID)
		return
	}
	n := h.Broadcast(room, websocket.BinaryMessage, data, senderID)
	slog.Debug("Relayed image frame", "clientID", senderID, "room", room, "recipients", n)
}

// HubStats is a point-in-time snapshot of the registry.
type HubStats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{Connections: len(h.conns), Rooms: len(h.rooms)}
}

// handleClose runs the terminal cleanup for a closed socket: registry
// removal, bridge unsubscribes for emptied rooms, and presence-offline
// broadcasts for every room the connection was in.
func (h *Hub) handleClose(c *Client) {
	rooms, username := h.Deregister(c.id)
	if h.presence != nil && username != "" {
		h.presence.DisconnectCleanup(rooms, username)
	}
}
