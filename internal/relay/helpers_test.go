package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

var errConnClosed = errors.New("connection closed")

// mockConn implements the Conn interface for testing
type mockConn struct {
	mu     sync.Mutex
	frames []frame
	closed bool
}

// ReadMessage errors immediately; tests drive dispatch directly instead of
// running the read pump.
func (m *mockConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errConnClosed
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	m.frames = append(m.frames, frame{messageType: messageType, data: data})
	return nil
}

func (m *mockConn) SetReadLimit(int64)                {}
func (m *mockConn) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConn) SetPongHandler(func(string) error) {}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) writtenFrames() []frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]frame, len(m.frames))
	copy(result, m.frames)
	return result
}

// memoryBackbone is an in-process Backbone that loops publishes back to the
// delivery stream for rooms it is subscribed to, so tests can exercise the
// full publish -> deliver -> fan-out round trip without Redis.
type memoryBackbone struct {
	mu             sync.Mutex
	subscribeCalls map[string]int
	active         map[string]bool
	published      map[string][][]byte
	out            chan BackboneMessage
	closeOnce      sync.Once
}

func newMemoryBackbone() *memoryBackbone {
	return &memoryBackbone{
		subscribeCalls: make(map[string]int),
		active:         make(map[string]bool),
		published:      make(map[string][][]byte),
		out:            make(chan BackboneMessage, 64),
	}
}

func (b *memoryBackbone) Subscribe(_ context.Context, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeCalls[room]++
	b.active[room] = true
	return nil
}

func (b *memoryBackbone) Unsubscribe(_ context.Context, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, room)
	return nil
}

func (b *memoryBackbone) Publish(_ context.Context, room string, payload []byte) error {
	b.mu.Lock()
	b.published[room] = append(b.published[room], payload)
	deliver := b.active[room]
	b.mu.Unlock()

	if deliver {
		b.out <- BackboneMessage{Room: room, Payload: payload}
	}
	return nil
}

func (b *memoryBackbone) Messages() <-chan BackboneMessage {
	return b.out
}

func (b *memoryBackbone) Close() error {
	b.closeOnce.Do(func() { close(b.out) })
	return nil
}

func (b *memoryBackbone) SubscribeCalls(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeCalls[room]
}

func (b *memoryBackbone) IsActive(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[room]
}

func (b *memoryBackbone) Published(room string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([][]byte, len(b.published[room]))
	copy(result, b.published[room])
	return result
}

// broadcastCall records one Broadcast invocation on a recorder.
type broadcastCall struct {
	room        string
	messageType int
	env         Envelope
	exclude     string
}

// broadcastRecorder implements the broadcaster interface for component tests
// that do not need a full hub.
type broadcastRecorder struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (r *broadcastRecorder) Broadcast(room string, messageType int, payload []byte, excludeID string) int {
	var env Envelope
	json.Unmarshal(payload, &env)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, broadcastCall{room: room, messageType: messageType, env: env, exclude: excludeID})
	return 1
}

func (r *broadcastRecorder) Calls() []broadcastCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]broadcastCall, len(r.calls))
	copy(result, r.calls)
	return result
}

func (r *broadcastRecorder) CallsOfType(t EventType) []broadcastCall {
	var out []broadcastCall
	for _, call := range r.Calls() {
		if call.env.Type == t {
			out = append(out, call)
		}
	}
	return out
}

// newTestRelay wires a hub, bridge, and presence tracker over a memory
// backbone, with the bridge consumer running until the test ends.
func newTestRelay(t *testing.T) (*Hub, *Bridge, *memoryBackbone, *Presence) {
	t.Helper()

	hub := NewHub()
	backbone := newMemoryBackbone()
	bridge := NewBridge(backbone, hub)
	hub.SetBridge(bridge)
	presence := NewPresence(hub, 30*time.Second)
	hub.SetPresence(presence)

	go bridge.Run()
	t.Cleanup(func() { backbone.Close() })

	return hub, bridge, backbone, presence
}

// addClient registers a fresh client backed by a mock connection.
func addClient(hub *Hub) *Client {
	c := NewClient(hub, &mockConn{})
	hub.Register(c)
	return c
}

// waitFrame blocks until the client has a queued outbound frame.
func waitFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case f := <-c.send:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame on client %s", c.id)
		return frame{}
	}
}

// drainFrames returns every currently queued outbound frame without blocking.
func drainFrames(c *Client) []frame {
	var out []frame
	for {
		select {
		case f := <-c.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

// decodeEnvelope unmarshals a queued text frame.
func decodeEnvelope(t *testing.T, f frame) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(f.data, &env); err != nil {
		t.Fatalf("failed to decode envelope %q: %v", f.data, err)
	}
	return env
}

// isRedisAvailable checks if Redis is available for integration tests
func isRedisAvailable() bool {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379", // Default Redis address
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	return err == nil
}
