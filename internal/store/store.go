// Package store persists the domain records behind the realtime layer:
// notifications, direct messages, and friend requests. Live push is
// fire-and-forget, so these records are what an offline user finds when they
// come back — the unread counts pushed on authenticate are derived from here.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Notification is a stored copy of a pushed (or attempted) notification.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	UserID    int64          `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"actionUrl,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Message is a direct message keyed by its recipient.
type Message struct {
	ID          uuid.UUID `json:"id"`
	SenderID    int64     `json:"senderId"`
	RecipientID int64     `json:"recipientId"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sentAt"`
}

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestDeclined FriendRequestStatus = "declined"
)

// FriendRequest tracks a pending or resolved friend request, keyed by the
// user it was sent to.
type FriendRequest struct {
	ID         string              `json:"id"`
	FromUserID int64               `json:"fromUserId"`
	ToUserID   int64               `json:"toUserId"`
	Status     FriendRequestStatus `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// Store is a BadgerDB-backed repository for realtime domain records.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

// Open opens (or creates) the store at the given path.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Keys are prefixed per record kind and per user, with a 19-digit
// zero-padded nanosecond timestamp so a prefix scan returns records in
// chronological order, and a UUID suffix to break same-nanosecond
// collisions.
func notificationKey(userID int64, at time.Time, id uuid.UUID) []byte {
	return fmt.Appendf(nil, "notif:%d:%019d:%s", userID, at.UnixNano(), id)
}

func messageKey(recipientID int64, at time.Time, id uuid.UUID) []byte {
	return fmt.Appendf(nil, "msg:%d:%019d:%s", recipientID, at.UnixNano(), id)
}

func friendRequestKey(toUserID int64, requestID string) []byte {
	return fmt.Appendf(nil, "freq:%d:%s", toUserID, requestID)
}

func userPrefix(kind string, userID int64) []byte {
	return fmt.Appendf(nil, "%s:%d:", kind, userID)
}

func (s *Store) put(key []byte, value any) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, bytes)
	})
}

// SaveNotification writes a notification record. A zero ID or timestamp is
// filled in so callers can hand over a bare payload.
func (s *Store) SaveNotification(n Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return s.put(notificationKey(n.UserID, n.CreatedAt, n.ID), n)
}

// UnreadNotificationCount returns the number of stored notifications for a
// user that have not been marked read.
func (s *Store) UnreadNotificationCount(userID int64) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = userPrefix("notif", userID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var n Notification
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			}); err != nil {
				return err
			}
			if !n.Read {
				count++
			}
		}
		return nil
	})
	return count, err
}

// MarkNotificationsRead flags every stored notification for a user as read.
func (s *Store) MarkNotificationsRead(userID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = userPrefix("notif", userID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var n Notification
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			}); err != nil {
				return err
			}
			if n.Read {
				continue
			}
			n.Read = true
			bytes, err := json.Marshal(n)
			if err != nil {
				return err
			}
			if err := txn.Set(item.KeyCopy(nil), bytes); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveMessage writes a direct message under its recipient.
func (s *Store) SaveMessage(m Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	return s.put(messageKey(m.RecipientID, m.SentAt, m.ID), m)
}

// MessagesFor returns up to limit stored messages for a recipient in
// chronological order. A limit of zero or less means no limit.
func (s *Store) MessagesFor(recipientID int64, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = userPrefix("msg", recipientID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(messages) >= limit {
				break
			}
			var m Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	return messages, err
}

// SaveFriendRequest records a new friend request as pending.
func (s *Store) SaveFriendRequest(r FriendRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = FriendRequestPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.put(friendRequestKey(r.ToUserID, r.ID), r)
}

// PendingFriendRequests lists the unresolved friend requests sent to a user.
func (s *Store) PendingFriendRequests(toUserID int64) ([]FriendRequest, error) {
	var pending []FriendRequest
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = userPrefix("freq", toUserID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r FriendRequest
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			if r.Status == FriendRequestPending {
				pending = append(pending, r)
			}
		}
		return nil
	})
	return pending, err
}

// PendingFriendRequestCount returns how many unresolved requests a user has.
func (s *Store) PendingFriendRequestCount(toUserID int64) (int, error) {
	pending, err := s.PendingFriendRequests(toUserID)
	return len(pending), err
}

// ResolveFriendRequest marks a pending request accepted or declined.
func (s *Store) ResolveFriendRequest(toUserID int64, requestID string, accepted bool) error {
	key := friendRequestKey(toUserID, requestID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("friend request %s for user %d: %w", requestID, toUserID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		var r FriendRequest
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		}); err != nil {
			return err
		}

		r.Status = FriendRequestDeclined
		if accepted {
			r.Status = FriendRequestAccepted
		}
		bytes, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return txn.Set(key, bytes)
	})
}
