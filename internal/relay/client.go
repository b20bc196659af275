package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Sized for image frames, not just
	// chat envelopes.
	maxMessageSize = 1 << 20

	// Outbound frames buffered per client before the client is dropped as a
	// slow consumer.
	sendBufferSize = 256
)

var ErrClientDisconnected = errors.New("client disconnected")

// Conn is the subset of *websocket.Conn the relay touches. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// frame is one queued outbound WebSocket message.
type frame struct {
	messageType int
	data        []byte
}

// Client is one accepted socket. The id is unique for the connection's
// lifetime. The rooms slice (insertion-ordered, duplicate-free) and username
// are owned by the hub and only read or written under the hub's mutex.
type Client struct {
	id   string
	hub  *Hub
	conn Conn
	send chan frame

	rooms    []string
	username string

	done   chan struct{}
	closed int32
}

func NewClient(hub *Hub, conn Conn) *Client {
	return &Client{
		id:   uuid.New().String(),
		hub:  hub,
		conn: conn,
		send: make(chan frame, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// close marks the client terminal and wakes the write pump. Idempotent.
func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.done)
		slog.Debug("Client marked as closed", "clientID", c.id)
	}
}

// Send queues a frame for delivery. It never blocks: a full buffer means the
// peer cannot keep up, so the client is dropped and the send reported as
// failed.
func (c *Client) Send(messageType int, data []byte) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	select {
	case c.send <- frame{messageType: messageType, data: data}:
		return nil
	case <-c.done:
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, dropping client", "clientID", c.id)
		c.close()
		return ErrClientDisconnected
	}
}

// readPump consumes inbound frames until the socket dies, then runs the
// terminal cleanup exactly once: presence-offline side effects, registry and
// index removal, bridge unsubscribes for emptied rooms.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.hub.handleClose(c)
		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "clientID", c.id, "error", err)
		}
		slog.Info("Client disconnected", "clientID", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "clientID", c.id, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "error", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.hub.dispatch(c, data)
		case websocket.BinaryMessage:
			c.hub.RelayImage(c.id, data)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
		slog.Debug("WritePump finished", "clientID", c.id)
	}()

	for {
		select {
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(f.messageType, f.data); err != nil {
				slog.Debug("Error writing message", "clientID", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.id, "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// ServeWS upgrades an HTTP request and hands the socket to the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(hub, conn)
	hub.Register(client)
	slog.Info("New WebSocket connection established", "clientID", client.id, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}
