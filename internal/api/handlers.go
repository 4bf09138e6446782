// Package api exposes the internal REST surface through which the rest of
// the platform reaches the realtime layer: pushing notifications, reading
// presence, and fetching a user's stored messages.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/store"
)

// MessageReader fetches stored messages for the inbox endpoint.
type MessageReader interface {
	MessagesFor(recipientID int64, limit int) ([]store.Message, error)
}

// NotificationMarker clears a user's unread notifications. Called when the
// user opens their notification feed, so the next counts-update snapshot
// starts from zero again.
type NotificationMarker interface {
	MarkNotificationsRead(userID int64) error
}

// Handler serves the internal API. All endpoints are trusted-network only;
// this service does not do per-request auth on them.
type Handler struct {
	dispatcher    *realtime.Dispatcher
	presence      *realtime.Registry
	messages      MessageReader
	notifications NotificationMarker
	log           *slog.Logger
}

// NewHandler wires the API against the dispatcher and presence registry.
// messages and notifications may be nil when the store is disabled.
func NewHandler(dispatcher *realtime.Dispatcher, presence *realtime.Registry, messages MessageReader, notifications NotificationMarker, log *slog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, presence: presence, messages: messages, notifications: notifications, log: log}
}

// Register mounts every API route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/notifications/user/{id}", h.notifyUser)
	mux.HandleFunc("POST /api/notifications/broadcast", h.broadcast)
	mux.HandleFunc("POST /api/notifications/mention", h.mention)
	mux.HandleFunc("POST /api/notifications/friendship", h.friendship)
	mux.HandleFunc("GET /api/presence", h.onlineUsers)
	mux.HandleFunc("GET /api/presence/{id}", h.userPresence)
	mux.HandleFunc("GET /api/users/{id}/messages", h.userMessages)
	mux.HandleFunc("POST /api/users/{id}/notifications/read", h.markNotificationsRead)
}

type notificationRequest struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"actionUrl,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (r notificationRequest) payload() realtime.NotificationPayload {
	return realtime.NotificationPayload{
		Type:      r.Type,
		Title:     r.Title,
		Message:   r.Message,
		ActionURL: r.ActionURL,
		Metadata:  r.Metadata,
	}
}

func (h *Handler) notifyUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req notificationRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	delivered := h.dispatcher.SendToUser(userID, req.payload())
	h.writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

func (h *Handler) broadcast(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	recipients := h.dispatcher.BroadcastToAll(req.payload())
	h.writeJSON(w, http.StatusOK, map[string]any{"recipients": recipients})
}

type mentionRequest struct {
	TargetUserID int64  `json:"targetUserId"`
	ActorName    string `json:"actorName"`
	Excerpt      string `json:"excerpt"`
	PostID       int64  `json:"postId,omitempty"`
}

func (h *Handler) mention(w http.ResponseWriter, r *http.Request) {
	var req mentionRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if req.TargetUserID <= 0 {
		http.Error(w, "targetUserId is required", http.StatusBadRequest)
		return
	}

	delivered := h.dispatcher.SendMentionNotification(req.TargetUserID, req.ActorName, req.Excerpt, req.PostID)
	h.writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

type friendshipRequest struct {
	UserID     int64  `json:"userId"`
	FriendName string `json:"friendName"`
	Kind       string `json:"kind"`
}

func (h *Handler) friendship(w http.ResponseWriter, r *http.Request) {
	var req friendshipRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	kind := realtime.FriendshipKind(req.Kind)
	switch kind {
	case realtime.FriendshipRequest, realtime.FriendshipAccepted, realtime.FriendshipClosenessUpdated:
	default:
		http.Error(w, "unknown friendship kind", http.StatusBadRequest)
		return
	}

	delivered := h.dispatcher.SendFriendshipNotification(req.UserID, req.FriendName, kind, nil)
	h.writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

func (h *Handler) onlineUsers(w http.ResponseWriter, _ *http.Request) {
	online := h.presence.OnlineUsers()
	if online == nil {
		online = []int64{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"online": online})
}

func (h *Handler) userPresence(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"userId":      userID,
		"online":      h.presence.IsOnline(userID),
		"connections": h.presence.ConnectionCount(userID),
	})
}

func (h *Handler) userMessages(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		http.Error(w, "message store disabled", http.StatusServiceUnavailable)
		return
	}
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.messages.MessagesFor(userID, limit)
	if err != nil {
		h.log.Error("reading stored messages", "user", userID, "error", err)
		http.Error(w, "failed to read messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		http.Error(w, "notification store disabled", http.StatusServiceUnavailable)
		return
	}
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.notifications.MarkNotificationsRead(userID); err != nil {
		h.log.Error("marking notifications read", "user", userID, "error", err)
		http.Error(w, "failed to mark notifications read", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "read": true})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response", "error", err)
	}
}
