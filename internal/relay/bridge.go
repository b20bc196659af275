package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Bridge maps local room interest onto the shared backbone: at most one
// upstream subscription per room per instance, opened when the first local
// connection subscribes and closed when the last one leaves, with inbound
// backbone deliveries fanned out to every local subscriber.
type Bridge struct {
	backbone Backbone
	local    broadcaster

	mu         sync.Mutex
	subscribed map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBridge(backbone Backbone, local broadcaster) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		backbone:   backbone,
		local:      local,
		subscribed: make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run consumes backbone deliveries until the backbone closes. One goroutine
// drains the stream, so per-room delivery order is preserved into the local
// fan-out.
func (b *Bridge) Run() {
	for msg := range b.backbone.Messages() {
		b.fanOut(msg)
	}
	slog.Info("Broadcast bridge stopped")
}

// Stop closes the upstream connection, which ends Run.
func (b *Bridge) Stop() {
	b.cancel()
	if err := b.backbone.Close(); err != nil {
		slog.Error("Error closing backbone", "error", err)
	}
}

// Subscribe opens the upstream subscription for a room unless one is already
// held. Backbone failures are logged and leave the room unsubscribed; the
// next 0->1 transition retries.
func (b *Bridge) Subscribe(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribed[room]; ok {
		return
	}
	if err := b.backbone.Subscribe(b.ctx, room); err != nil {
		slog.Error("Failed to subscribe to backbone room", "room", room, "error", err)
		return
	}
	b.subscribed[room] = struct{}{}
	slog.Info("Subscribed to backbone room", "room", room)
}

// Unsubscribe closes the upstream subscription for a room, if held.
func (b *Bridge) Unsubscribe(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribed[room]; !ok {
		return
	}
	delete(b.subscribed, room)
	if err := b.backbone.Unsubscribe(b.ctx, room); err != nil {
		slog.Error("Failed to unsubscribe from backbone room", "room", room, "error", err)
		return
	}
	slog.Info("Unsubscribed from backbone room", "room", room)
}

// IsSubscribed reports whether this instance holds the upstream subscription
// for a room.
func (b *Bridge) IsSubscribed(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subscribed[room]
	return ok
}

// SubscriptionCount returns the number of rooms with an open upstream
// subscription.
func (b *Bridge) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribed)
}

// Publish sends a chat message to the backbone room. Always published
// upstream regardless of local subscription state; the sender receives its
// own copy back through the backbone round trip, so no local echo is needed.
func (b *Bridge) Publish(room string, msg *ChatMessage) {
	payload := encode(Envelope{Type: EventSendMessage, RoomID: room, Message: msg})
	if payload == nil {
		return
	}
	if err := b.backbone.Publish(b.ctx, room, payload); err != nil {
		slog.Error("Failed to publish message", "room", room, "error", err)
	}
}

// fanOut decodes one backbone delivery and broadcasts it, unexcluded, to
// every local connection subscribed to the room.
func (b *Bridge) fanOut(msg BackboneMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		slog.Error("Dropping malformed backbone message", "room", msg.Room, "error", err)
		return
	}

	roomID := env.RoomID
	if roomID == "" {
		roomID = msg.Room
	}

	out := encode(Envelope{Type: EventReceiverMessage, RoomID: roomID, Message: env.Message})
	n := b.local.Broadcast(roomID, websocket.TextMessage, out, "")
	slog.Debug("Fanned out backbone message", "room", roomID, "recipients", n)
}
