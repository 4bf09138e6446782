package store

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUnreadNotificationCount(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	count, err := s.UnreadNotificationCount(42)
	req.NoError(err)
	req.Zero(count)

	for i := 0; i < 3; i++ {
		req.NoError(s.SaveNotification(Notification{
			UserID:  42,
			Type:    "mention",
			Title:   "ana mentioned you",
			Message: "hola",
		}))
	}
	req.NoError(s.SaveNotification(Notification{UserID: 7, Type: "mention", Title: "other user"}))

	count, err = s.UnreadNotificationCount(42)
	req.NoError(err)
	req.Equal(3, count)

	req.NoError(s.MarkNotificationsRead(42))
	count, err = s.UnreadNotificationCount(42)
	req.NoError(err)
	req.Zero(count)

	// Other users' notifications are untouched.
	count, err = s.UnreadNotificationCount(7)
	req.NoError(err)
	req.Equal(1, count)
}

func TestMessagesChronologicalOrder(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	at := time.Now().UTC()
	contents := []string{"first", "second", "third"}
	for i, c := range contents {
		req.NoError(s.SaveMessage(Message{
			SenderID:    1,
			RecipientID: 2,
			Content:     c,
			SentAt:      at.Add(time.Duration(i) * time.Minute),
		}))
	}

	messages, err := s.MessagesFor(2, 0)
	req.NoError(err)
	req.Len(messages, 3)
	for i, m := range messages {
		req.Equal(contents[i], m.Content)
		req.Equal(int64(1), m.SenderID)
	}

	limited, err := s.MessagesFor(2, 2)
	req.NoError(err)
	req.Len(limited, 2)

	none, err := s.MessagesFor(99, 0)
	req.NoError(err)
	req.Empty(none)
}

func TestFriendRequestLifecycle(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	r := FriendRequest{FromUserID: 1, ToUserID: 2}
	req.NoError(s.SaveFriendRequest(r))

	pending, err := s.PendingFriendRequests(2)
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal(FriendRequestPending, pending[0].Status)

	count, err := s.PendingFriendRequestCount(2)
	req.NoError(err)
	req.Equal(1, count)

	req.NoError(s.ResolveFriendRequest(2, pending[0].ID, true))

	pending, err = s.PendingFriendRequests(2)
	req.NoError(err)
	req.Empty(pending)
}

func TestResolveUnknownFriendRequest(t *testing.T) {
	s := openTestStore(t)
	err := s.ResolveFriendRequest(2, "nope", true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCountsSurviveReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	s, err := Open(dir, slog.Default())
	req.NoError(err)
	req.NoError(s.SaveNotification(Notification{UserID: 5, Type: "message", Title: "New message"}))
	req.NoError(s.Close())

	s, err = Open(dir, slog.Default())
	req.NoError(err)
	defer s.Close()

	count, err := s.UnreadNotificationCount(5)
	req.NoError(err)
	req.Equal(1, count)
}
