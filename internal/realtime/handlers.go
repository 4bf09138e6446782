package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Store is the persistence surface the event handlers need. It is satisfied
// by an adapter over the badger-backed store; tests use in-memory fakes.
type Store interface {
	UnreadNotificationCount(userID int64) (int, error)
	PendingFriendRequestCount(userID int64) (int, error)
	SaveMessage(senderID, recipientID int64, content string, sentAt time.Time) error
	SaveFriendRequest(requestID string, fromUserID, toUserID int64) error
	ResolveFriendRequest(toUserID int64, requestID string, accepted bool) error
}

// TokenVerifier checks the session token presented on authenticate.
type TokenVerifier interface {
	VerifyUserID(token string) (int64, error)
}

// Handlers terminates client-originated events. Each handler is state-free:
// it validates the payload, applies side effects (persistence, dispatch),
// and acknowledges the sender where the protocol calls for it. Nothing here
// is allowed to propagate a failure up to the connection loop.
type Handlers struct {
	hub          *Hub
	dispatcher   *Dispatcher
	store        Store
	tokens       TokenVerifier
	authRequired bool
	validate     *validator.Validate
	log          *slog.Logger
}

// NewHandlers wires the inbound event handlers. store and tokens may be nil;
// a nil store degrades authenticate snapshots to zero counts and drops
// durability, a nil tokens disables token verification (dev mode).
func NewHandlers(hub *Hub, dispatcher *Dispatcher, store Store, tokens TokenVerifier, authRequired bool, log *slog.Logger) *Handlers {
	return &Handlers{
		hub:          hub,
		dispatcher:   dispatcher,
		store:        store,
		tokens:       tokens,
		authRequired: authRequired,
		validate:     validator.New(),
		log:          log,
	}
}

// Handle routes one inbound frame to its handler. Unknown events are logged
// and dropped; a panicking handler is contained to this frame.
func (h *Handlers) Handle(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from handler panic", "conn", c.id, "panic", r)
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: "malformed event envelope"})
		return
	}

	switch env.Event {
	case EventAuthenticate:
		h.handleAuthenticate(c, env.Data)
	case EventSendMessage:
		h.handleSendMessage(c, env.Data)
	case EventTyping:
		h.handleTyping(c, env.Data)
	case EventFriendRequestSent:
		h.handleFriendRequestSent(c, env.Data)
	case EventFriendRequestResponse:
		h.handleFriendRequestResponse(c, env.Data)
	default:
		h.log.Debug("unknown inbound event", "conn", c.id, "event", env.Event)
	}
}

func (h *Handlers) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// handleAuthenticate binds the connection to a user and pushes the unread
// snapshot back to just this connection. The user id claim is checked
// against the presented token; without a token the claim is only accepted
// when the service runs in open mode.
func (h *Handlers) handleAuthenticate(c *Client, data json.RawMessage) {
	var p AuthenticatePayload
	if err := h.decode(data, &p); err != nil {
		h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: err.Error()})
		return
	}

	switch {
	case p.Token != "" && h.tokens != nil:
		claimed, err := h.tokens.VerifyUserID(p.Token)
		if err != nil {
			h.log.Warn("authenticate rejected, invalid token", "conn", c.id, "user", p.UserID, "error", err)
			h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: "invalid authentication token"})
			return
		}
		if claimed != p.UserID {
			h.log.Warn("authenticate rejected, token user mismatch", "conn", c.id, "claimed", claimed, "requested", p.UserID)
			h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: "token does not match user"})
			return
		}
	case h.authRequired:
		h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: "authentication token required"})
		return
	}

	h.hub.BindUser(c, p.UserID)

	// Failures looking up counts degrade to an empty snapshot rather than
	// dropping the connection.
	var counts CountsUpdatePayload
	if h.store != nil {
		if n, err := h.store.UnreadNotificationCount(p.UserID); err != nil {
			h.log.Error("reading unread notification count", "user", p.UserID, "error", err)
		} else {
			counts.Notifications = n
		}
		if n, err := h.store.PendingFriendRequestCount(p.UserID); err != nil {
			h.log.Error("reading pending friend requests", "user", p.UserID, "error", err)
		} else {
			counts.FriendRequests = n
		}
	}

	h.hub.EmitToConn(c.id, EventAuthenticated, AuthenticatedPayload{UserID: p.UserID})
	h.hub.EmitToConn(c.id, EventCountsUpdate, counts)
}

// handleSendMessage persists the message, relays it to the recipient's room,
// raises a notification, and acknowledges the sender. Success means "relay
// attempted": an offline recipient still gets a success ack, and finds the
// message in the store later.
func (h *Handlers) handleSendMessage(c *Client, data json.RawMessage) {
	var p SendMessagePayload
	if err := h.decode(data, &p); err != nil {
		h.hub.EmitToConn(c.id, EventMessageSent, MessageSentPayload{Success: false, Error: err.Error()})
		return
	}

	now := time.Now().UTC()
	if h.store != nil {
		if err := h.store.SaveMessage(p.SenderID, p.RecipientID, p.Content, now); err != nil {
			h.log.Error("persisting message", "sender", p.SenderID, "recipient", p.RecipientID, "error", err)
		}
	}

	delivered := h.hub.EmitToRoom(UserRoom(p.RecipientID), EventNewMessage, NewMessagePayload{
		SenderID:  p.SenderID,
		Content:   p.Content,
		Timestamp: now,
	})
	h.log.Debug("message relayed", "sender", p.SenderID, "recipient", p.RecipientID, "connections", delivered)

	h.dispatcher.SendToUser(p.RecipientID, NotificationPayload{
		Type:      "message",
		Title:     "New message",
		Message:   truncateExcerpt(p.Content),
		ActionURL: fmt.Sprintf("/messages/%d", p.SenderID),
		Metadata:  map[string]any{"senderId": p.SenderID},
		Timestamp: now,
	})

	h.hub.EmitToConn(c.id, EventMessageSent, MessageSentPayload{Success: true})
}

// handleTyping is a stateless relay of the typing flag to the recipient.
func (h *Handlers) handleTyping(c *Client, data json.RawMessage) {
	var p TypingPayload
	if err := h.decode(data, &p); err != nil {
		h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: err.Error()})
		return
	}

	h.hub.EmitToRoom(UserRoom(p.RecipientID), EventUserTyping, UserTypingPayload{
		UserID:   p.UserID,
		IsTyping: p.IsTyping,
	})
}

// handleFriendRequestSent records the request and notifies the target. The
// generated request id travels in the notification metadata so the client
// can reference it in friend-request-response.
func (h *Handlers) handleFriendRequestSent(c *Client, data json.RawMessage) {
	var p FriendRequestSentPayload
	if err := h.decode(data, &p); err != nil {
		h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: err.Error()})
		return
	}

	requestID := uuid.NewString()
	if h.store != nil {
		if err := h.store.SaveFriendRequest(requestID, p.FromUserID, p.ToUserID); err != nil {
			h.log.Error("persisting friend request", "from", p.FromUserID, "to", p.ToUserID, "error", err)
		}
	}

	h.dispatcher.SendFriendshipNotification(p.ToUserID, displayName(p.FromUsername, p.FromUserID), FriendshipRequest, map[string]any{
		"requestId":  requestID,
		"fromUserId": p.FromUserID,
	})
}

// handleFriendRequestResponse resolves the stored request and, on accept,
// notifies the original requester.
func (h *Handlers) handleFriendRequestResponse(c *Client, data json.RawMessage) {
	var p FriendRequestResponsePayload
	if err := h.decode(data, &p); err != nil {
		h.hub.EmitToConn(c.id, EventError, ErrorPayload{Message: err.Error()})
		return
	}

	if h.store != nil {
		if err := h.store.ResolveFriendRequest(p.ToUserID, p.RequestID, p.Accepted); err != nil {
			h.log.Warn("resolving friend request", "request", p.RequestID, "to", p.ToUserID, "error", err)
		}
	}

	if p.Accepted {
		h.dispatcher.SendFriendshipNotification(p.FromUserID, displayName(p.ToUsername, p.ToUserID), FriendshipAccepted, map[string]any{
			"toUserId": p.ToUserID,
		})
	}
}

func displayName(username string, userID int64) string {
	if username != "" {
		return username
	}
	return fmt.Sprintf("User %d", userID)
}
