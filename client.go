package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	sendBufferSize = 256

	// gorilla closes the connection when a message exceeds ReadLimit, and
	// the protocol wants oversized frames dropped without disconnecting.
	// So the hard limit sits well above maxFrameSize and the handler drops
	// anything in between.
	readLimit = 1 << 20
)

// Client wraps one live websocket session bound to a (room, user) pair.
type Client struct {
	id     string
	user   string
	roomID string
	conn   *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(conn *websocket.Conn, user, roomID string) *Client {
	return &Client{
		id:     uuid.New().String(),
		user:   user,
		roomID: roomID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Enqueue queues a frame for delivery. A full buffer drops the frame so a
// slow peer cannot stall broadcasts to the rest of the room.
func (c *Client) Enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Warn().
			Str("conn", c.id).
			Str("user", c.user).
			Str("room", c.roomID).
			Msg("send buffer full, dropping frame")
		return false
	}
}

// Close shuts the send channel exactly once; the write pump then emits a
// close frame and tears down the transport.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// ClosePolicy sends a policy-violation close frame with the given reason
// before closing. Used for handshake failures and reconnect displacement.
func (c *Client) ClosePolicy(reason string) {
	if c.conn != nil {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	}
	c.Close()
}

// ReadPump reads frames and hands them to the sync handler. It owns the
// liveness deadline: every pong pushes it out, and a silent peer times out
// the read and tears the connection down.
func (c *Client) ReadPump(h *SyncHandler) {
	defer func() {
		h.Disconnect(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
				log.Debug().Err(err).
					Str("user", c.user).
					Str("room", c.roomID).
					Msg("read error")
			}
			return
		}
		h.HandleFrame(c, data)
	}
}

// WritePump drains the send channel onto the wire and pings on a fixed
// interval. Frames are written one per websocket message; the binary
// protocol has no frame separator so batching is not an option.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
