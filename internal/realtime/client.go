package realtime

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
)

// ClientOptions carries the per-connection limits applied at accept time.
type ClientOptions struct {
	MaxMessageSize  int64
	SendBufferSize  int
	RateLimitBurst  int
	RateLimitRefill time.Duration
}

// Client is one live WebSocket connection. The connection id is assigned at
// accept time; the owning user id stays zero until authenticate succeeds.
type Client struct {
	id       string
	userID   int64
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	handlers *Handlers
	addr     string
	closed   bool
	limiter  *rateLimiter
	log      *slog.Logger
}

// NewClient wraps an upgraded connection. A nil conn is allowed so tests can
// drive handlers without a socket.
func NewClient(conn *websocket.Conn, hub *Hub, handlers *Handlers, addr string, opts ClientOptions) *Client {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	c := &Client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, opts.SendBufferSize),
		hub:      hub,
		handlers: handlers,
		addr:     addr,
		limiter:  newRateLimiter(opts.RateLimitBurst, opts.RateLimitRefill),
	}
	c.log = hub.log.With("conn", c.id, "addr", addr)
	return c
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the owning user id, zero until authenticated.
func (c *Client) UserID() int64 {
	return c.userID
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("setting read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("inbound frame exceeded read limit")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", "error", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug("connection closed", "error", err)
	default:
		c.log.Warn("websocket read error", "error", err)
	}
}

// readPump reads frames off the socket, applies the rate limit, and hands
// them to the event handlers. It unregisters the client on exit, which is
// the disconnect path for both clean and dirty closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("closing connection after read loop", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.limiter != nil && !c.limiter.allow() {
			c.log.Warn("rate limit exceeded, discarding frame")
			continue
		}

		c.handlers.Handle(c, raw)
	}
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with periodic pings. It exits when the send channel is closed or a
// write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("closing connection after write loop", "error", err)
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.log.Warn("setting write deadline", "error", err)
				return
			}
			if !ok {
				// Hub closed the channel; tell the peer we are done.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeFrame(frame) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame writes one frame plus anything already queued behind it.
func (c *Client) writeFrame(frame []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return false
	}
	if _, err := w.Write(frame); err != nil {
		return false
	}

	queued := len(c.send)
	for i := 0; i < queued; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.log.Warn("closing frame writer", "error", err)
		return false
	}
	return true
}

// isExpectedCloseError reports whether an error is routine connection
// teardown noise.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
