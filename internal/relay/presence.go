package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// presenceKey identifies one user's presence within one room. The same
// username in two rooms is two independent records.
type presenceKey struct {
	room     string
	username string
}

type presenceRecord struct {
	lastSeen time.Time
	online   bool
}

// Presence tracks per (room, username) online state, driven by client
// heartbeats rather than socket liveness: a socket can outlive a human's
// attention and a brief network blip should not flap the user offline, so
// the offline threshold is a multiple of the client heartbeat interval.
// Records survive reconnects and are never deleted.
type Presence struct {
	local     broadcaster
	threshold time.Duration

	mu      sync.Mutex
	records map[presenceKey]*presenceRecord

	// now is swapped in tests to drive the sweep clock.
	now func() time.Time
}

func NewPresence(local broadcaster, threshold time.Duration) *Presence {
	return &Presence{
		local:     local,
		threshold: threshold,
		records:   make(map[presenceKey]*presenceRecord),
		now:       time.Now,
	}
}

// Join marks the user online and announces USER_JOINED to the whole room,
// sender included; the sender's client treats its own join as informational.
func (p *Presence) Join(room, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.upsert(room, username)
	slog.Info("User joined room", "room", room, "username", username)
	p.local.Broadcast(room, websocket.TextMessage, presenceEnvelope(EventUserJoined, room, username), "")
}

// Leave marks the user offline and announces USER_LEFT. A leave for an
// unknown (room, username) pair is a no-op.
func (p *Presence) Leave(room, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[presenceKey{room: room, username: username}]
	if !ok {
		return
	}
	rec.online = false
	rec.lastSeen = p.now()

	slog.Info("User left room", "room", room, "username", username)
	p.local.Broadcast(room, websocket.TextMessage, presenceEnvelope(EventUserLeft, room, username), "")
}

// Heartbeat refreshes lastSeen and keeps the user online. A heartbeat that
// finds the user offline (or unknown) transitions them online and announces
// USER_ONLINE exactly once; a heartbeat on an already-online user announces
// nothing.
func (p *Presence) Heartbeat(room, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasOnline := false
	if rec, ok := p.records[presenceKey{room: room, username: username}]; ok {
		wasOnline = rec.online
	}
	p.upsert(room, username)

	if !wasOnline {
		slog.Info("User back online", "room", room, "username", username)
		p.local.Broadcast(room, websocket.TextMessage, presenceEnvelope(EventUserOnline, room, username), "")
	}
}

// DisconnectCleanup runs once per closed connection: for every room the
// connection was in, an existing presence record for its username goes
// offline and USER_LEFT is announced.
func (p *Presence) DisconnectCleanup(rooms []string, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, room := range rooms {
		rec, ok := p.records[presenceKey{room: room, username: username}]
		if !ok {
			continue
		}
		rec.online = false
		rec.lastSeen = p.now()

		slog.Info("User disconnected from room", "room", room, "username", username)
		p.local.Broadcast(room, websocket.TextMessage, presenceEnvelope(EventUserLeft, room, username), "")
	}
}

// Sweep downgrades every online record whose lastSeen is older than the
// threshold and announces USER_OFFLINE once per downgraded record.
func (p *Presence) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for key, rec := range p.records {
		if !rec.online || now.Sub(rec.lastSeen) <= p.threshold {
			continue
		}
		rec.online = false
		rec.lastSeen = now

		slog.Info("User timed out", "room", key.room, "username", key.username)
		p.local.Broadcast(key.room, websocket.TextMessage, presenceEnvelope(EventUserOffline, key.room, key.username), "")
	}
}

// Run sweeps on a fixed interval for the process lifetime.
func (p *Presence) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Presence sweeper started", "interval", interval, "threshold", p.threshold)
	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-ctx.Done():
			slog.Info("Presence sweeper stopped")
			return
		}
	}
}

// Counts returns the total number of presence records and how many are
// currently online.
func (p *Presence) Counts() (records, online int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rec := range p.records {
		if rec.online {
			online++
		}
	}
	return len(p.records), online
}

// upsert creates or refreshes a record as online now. Caller holds p.mu.
func (p *Presence) upsert(room, username string) {
	key := presenceKey{room: room, username: username}
	rec, ok := p.records[key]
	if !ok {
		rec = &presenceRecord{}
		p.records[key] = rec
	}
	rec.online = true
	rec.lastSeen = p.now()
}
