package realtime

import (
	"fmt"
	"log/slog"
	"time"
)

// Emitter is the transport surface the dispatcher pushes through. It is nil
// when the process runs with the realtime layer disabled, in which case every
// dispatch reports "not delivered" instead of failing the caller.
type Emitter interface {
	EmitToRoom(room, event string, data any) int
	EmitToAll(event string, data any) int
	TrackedUsers() int
}

// NotificationSink persists a notification before the live push is attempted,
// so an offline recipient still finds it in their unread counts.
type NotificationSink interface {
	SaveNotification(userID int64, p NotificationPayload) error
}

// FriendshipKind selects the template for a friendship notification.
type FriendshipKind string

const (
	FriendshipRequest          FriendshipKind = "friend_request"
	FriendshipAccepted         FriendshipKind = "friend_accepted"
	FriendshipClosenessUpdated FriendshipKind = "closeness_updated"
)

// excerptLimit caps content excerpts embedded in notification messages.
const excerptLimit = 100

// Dispatcher formats domain events into notification payloads and routes
// them to the right rooms. Delivery is fire-and-forget: internal failures are
// logged and reported as "not delivered", never raised to the caller, so a
// failed push can never break the business operation that triggered it.
type Dispatcher struct {
	emitter Emitter
	sink    NotificationSink
	log     *slog.Logger
}

// NewDispatcher creates a dispatcher. Both emitter and sink may be nil:
// a nil emitter means the realtime layer is disabled, a nil sink disables
// notification persistence.
func NewDispatcher(emitter Emitter, sink NotificationSink, log *slog.Logger) *Dispatcher {
	return &Dispatcher{emitter: emitter, sink: sink, log: log}
}

// SendToUser persists the payload and emits it to the user's room. Returns
// true iff the payload was queued to at least one live connection. False is
// "notification skipped", not an error; callers must not retry.
func (d *Dispatcher) SendToUser(userID int64, p NotificationPayload) bool {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	if d.sink != nil {
		if err := d.sink.SaveNotification(userID, p); err != nil {
			d.log.Error("persisting notification", "user", userID, "type", p.Type, "error", err)
		}
	}

	if d.emitter == nil {
		d.log.Warn("realtime transport not initialized, notification skipped",
			"user", userID, "type", p.Type)
		return false
	}
	return d.emitter.EmitToRoom(UserRoom(userID), EventNotification, p) > 0
}

// SendMentionNotification notifies a user they were mentioned in a post.
// The excerpt is truncated and, when a post id is given, the notification
// deep-links to it.
func (d *Dispatcher) SendMentionNotification(targetUserID int64, actorName, excerpt string, postID int64) bool {
	p := NotificationPayload{
		Type:    "mention",
		Title:   fmt.Sprintf("%s mentioned you", actorName),
		Message: truncateExcerpt(excerpt),
	}
	if postID > 0 {
		p.ActionURL = fmt.Sprintf("/posts/%d", postID)
		p.Metadata = map[string]any{"postId": postID}
	}
	return d.SendToUser(targetUserID, p)
}

// SendFriendshipNotification notifies a user about a friendship event using
// the fixed template for the given kind.
func (d *Dispatcher) SendFriendshipNotification(userID int64, friendName string, kind FriendshipKind, metadata map[string]any) bool {
	var title, message string
	switch kind {
	case FriendshipRequest:
		title = "New friend request"
		message = fmt.Sprintf("%s sent you a friend request", friendName)
	case FriendshipAccepted:
		title = "Friend request accepted"
		message = fmt.Sprintf("%s accepted your friend request", friendName)
	case FriendshipClosenessUpdated:
		title = "Closeness updated"
		message = fmt.Sprintf("Your closeness level with %s changed", friendName)
	default:
		d.log.Warn("unknown friendship notification kind", "kind", kind)
		return false
	}

	return d.SendToUser(userID, NotificationPayload{
		Type:      string(kind),
		Title:     title,
		Message:   message,
		ActionURL: "/friends",
		Metadata:  metadata,
	})
}

// BroadcastToAll emits the payload to every connected client. The return
// value is the number of currently tracked users, not a delivery count.
func (d *Dispatcher) BroadcastToAll(p NotificationPayload) int {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	if d.emitter == nil {
		d.log.Warn("realtime transport not initialized, broadcast skipped", "type", p.Type)
		return 0
	}
	d.emitter.EmitToAll(EventNotification, p)
	return d.emitter.TrackedUsers()
}

func truncateExcerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= excerptLimit {
		return s
	}
	return string(runes[:excerptLimit]) + "..."
}
