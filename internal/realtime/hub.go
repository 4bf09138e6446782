package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub owns every live connection and the registry/room state derived from
// them. Registration and teardown flow through its run loop; emits read a
// locked snapshot, so a send racing a disconnect quietly hits zero targets.
type Hub struct {
	log      *slog.Logger
	registry *Registry
	rooms    *Rooms

	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub ready to accept connections. Run must be started in
// its own goroutine before clients are registered.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		registry:   NewRegistry(),
		rooms:      NewRooms(),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes presence state derived from the connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Register hands a new connection to the run loop. No-op once the hub is
// shutting down.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
	}
}

// Unregister removes a connection; safe to call for already-removed clients
// and after shutdown.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run is the hub's event loop. It handles registration and teardown until
// Shutdown cancels it.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllConnections()
			return

		case c := <-h.register:
			if c == nil {
				h.log.Warn("nil client registration skipped")
				continue
			}
			h.addClient(c)

		case c := <-h.unregister:
			if c == nil {
				continue
			}
			h.dropClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	c.closed = false
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client connected", "conn", c.id, "addr", c.addr, "total", total)

	h.EmitToConn(c.id, EventConnected, ConnectedPayload{
		Message:   "Connected to Mundo Tango realtime service",
		Timestamp: time.Now().UTC(),
	})

	if c.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	c.closed = true
	total := len(h.clients)
	h.mu.Unlock()

	h.registry.Remove(c.id)
	h.rooms.LeaveAll(c.id)
	close(c.send)

	h.log.Info("client disconnected", "conn", c.id, "addr", c.addr, "total", total)
}

// BindUser associates an authenticated connection with a user: the registry
// learns the ownership and the connection joins its per-user room.
func (h *Hub) BindUser(c *Client, userID int64) {
	c.userID = userID
	h.registry.Add(userID, c.id)
	h.rooms.Join(UserRoom(userID), c.id)
	h.log.Info("connection authenticated", "conn", c.id, "user", userID,
		"connections", h.registry.ConnectionCount(userID))
}

// safeSend queues a frame on a client's send channel without blocking.
// Returns false when the client is gone or its buffer is full.
func (h *Hub) safeSend(c *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c.id]; !ok || c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// EmitToConn sends an event to a single connection. Returns false if the
// connection is gone or saturated.
func (h *Hub) EmitToConn(connID, event string, data any) bool {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.log.Error("encoding event failed", "event", event, "error", err)
		return false
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.safeSend(c, frame)
}

// EmitToRoom sends an event to every connection in a room and returns the
// number of connections the frame was queued to. A connection with a full
// send buffer is evicted rather than allowed to stall the emit.
func (h *Hub) EmitToRoom(room, event string, data any) int {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.log.Error("encoding event failed", "event", event, "error", err)
		return 0
	}
	return h.emit(h.roomSnapshot(room), frame)
}

// EmitToAll sends an event to every connected client regardless of rooms.
func (h *Hub) EmitToAll(event string, data any) int {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.log.Error("encoding event failed", "event", event, "error", err)
		return 0
	}
	return h.emit(h.clientSnapshot(), frame)
}

// TrackedUsers returns the number of users with at least one connection.
func (h *Hub) TrackedUsers() int {
	return h.registry.Size()
}

func (h *Hub) roomSnapshot(room string) []*Client {
	ids := h.rooms.Members(room)

	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			clients = append(clients, c)
		}
	}
	return clients
}

func (h *Hub) clientSnapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) emit(targets []*Client, frame []byte) int {
	delivered := 0
	var failed []*Client
	for _, c := range targets {
		if h.safeSend(c, frame) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}
	h.removeFailedClients(failed)
	return delivered
}

// removeFailedClients evicts clients whose send buffers were full.
func (h *Hub) removeFailedClients(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	var toClose []chan []byte
	for _, c := range failed {
		if _, ok := h.clients[c.id]; !ok {
			continue
		}
		delete(h.clients, c.id)
		c.closed = true
		toClose = append(toClose, c.send)
		h.log.Warn("client evicted, send buffer full", "conn", c.id, "addr", c.addr)
	}
	h.mu.Unlock()

	for _, c := range failed {
		h.registry.Remove(c.id)
		h.rooms.LeaveAll(c.id)
	}
	// Close channels after releasing the lock.
	for _, ch := range toClose {
		close(ch)
	}
}

// closeAllConnections tears down every remaining client after the run loop
// has exited. Unregister is a no-op at this point, so the teardown that
// dropClient normally performs happens here: closing the send channels is
// what unblocks the write pumps, and closing the sockets unblocks the reads.
func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		delete(h.clients, id)
		c.closed = true
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.log.Info("closing all client connections", "count", len(clients))

	for _, c := range clients {
		h.registry.Remove(c.id)
		h.rooms.LeaveAll(c.id)
		close(c.send)
		if c.conn == nil {
			continue
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("closing client connection", "conn", c.id, "error", err)
		}
	}
}

// Shutdown stops the run loop, closes every connection, and waits for the
// pump goroutines to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutting down")
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
