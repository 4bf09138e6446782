package realtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WSHandler upgrades HTTP requests to WebSocket connections and registers
// them with the hub. It is constructed once and injected wherever the route
// table is assembled; there is no package-level instance.
type WSHandler struct {
	hub      *Hub
	handlers *Handlers
	upgrader websocket.Upgrader
	opts     ClientOptions
	log      *slog.Logger
}

// NewWSHandler creates the upgrade handler with the given origin policy and
// per-connection limits.
func NewWSHandler(hub *Hub, handlers *Handlers, origin *OriginPolicy, opts ClientOptions, log *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		handlers: handlers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origin.Check,
		},
		opts: opts,
		log:  log,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, h.handlers, r.RemoteAddr, h.opts)
	// The hub launches the pump goroutines when it processes the registration.
	h.hub.Register(client)
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "realtime service is running")
}
