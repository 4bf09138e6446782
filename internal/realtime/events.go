package realtime

import (
	"encoding/json"
	"time"
)

// Wire event names. Every frame on the socket is an Envelope carrying one of
// these events.
const (
	// client -> server
	EventAuthenticate          = "authenticate"
	EventSendMessage           = "send-message"
	EventTyping                = "typing"
	EventFriendRequestSent     = "friend-request-sent"
	EventFriendRequestResponse = "friend-request-response"

	// server -> client
	EventConnected     = "connected"
	EventAuthenticated = "authenticated"
	EventCountsUpdate  = "counts-update"
	EventNewMessage    = "new-message"
	EventUserTyping    = "user-typing"
	EventNotification  = "notification"
	EventMessageSent   = "message-sent"
	EventError         = "error"
)

// Envelope is the framing for every message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload binds the connection to a user. The token is a signed
// session token; depending on configuration it is required or optional, but
// a token that is present and invalid is always rejected.
type AuthenticatePayload struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Token  string `json:"token,omitempty"`
}

// SendMessagePayload carries a direct message to another user.
type SendMessagePayload struct {
	SenderID    int64  `json:"senderId" validate:"required,gt=0"`
	RecipientID int64  `json:"recipientId" validate:"required,gt=0"`
	Content     string `json:"content" validate:"required,max=4000"`
}

// TypingPayload relays a typing indicator to the recipient.
type TypingPayload struct {
	UserID      int64 `json:"userId" validate:"required,gt=0"`
	RecipientID int64 `json:"recipientId" validate:"required,gt=0"`
	IsTyping    bool  `json:"isTyping"`
}

// FriendRequestSentPayload announces a new friend request.
type FriendRequestSentPayload struct {
	FromUserID   int64  `json:"fromUserId" validate:"required,gt=0"`
	ToUserID     int64  `json:"toUserId" validate:"required,gt=0"`
	FromUsername string `json:"fromUsername,omitempty"`
}

// FriendRequestResponsePayload resolves a previously sent friend request.
type FriendRequestResponsePayload struct {
	RequestID  string `json:"requestId" validate:"required"`
	FromUserID int64  `json:"fromUserId" validate:"required,gt=0"`
	ToUserID   int64  `json:"toUserId" validate:"required,gt=0"`
	Accepted   bool   `json:"accepted"`
	ToUsername string `json:"toUsername,omitempty"`
}

// NotificationPayload is the wire form of a pushed notification. It is
// immutable once constructed and never stored by this package; durability is
// the store's concern.
type NotificationPayload struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"actionUrl,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ConnectedPayload is sent once per connection on open.
type ConnectedPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthenticatedPayload acknowledges a successful authenticate.
type AuthenticatedPayload struct {
	UserID int64 `json:"userId"`
}

// CountsUpdatePayload is the unread snapshot pushed after authenticate.
type CountsUpdatePayload struct {
	Notifications  int `json:"notifications"`
	FriendRequests int `json:"friendRequests"`
}

// NewMessagePayload is a relayed direct message.
type NewMessagePayload struct {
	SenderID  int64     `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UserTypingPayload is a relayed typing indicator.
type UserTypingPayload struct {
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
}

// MessageSentPayload acknowledges a send-message to its sender. Success means
// the relay was attempted, not that the recipient received anything.
type MessageSentPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload reports a rejected inbound event back to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}

// encodeEvent frames an event and payload for the wire.
func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
