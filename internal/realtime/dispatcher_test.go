package realtime

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type emitCall struct {
	room  string
	event string
	data  any
}

type fakeEmitter struct {
	roomCalls  []emitCall
	allCalls   []emitCall
	roomResult int
	tracked    int
}

func (f *fakeEmitter) EmitToRoom(room, event string, data any) int {
	f.roomCalls = append(f.roomCalls, emitCall{room: room, event: event, data: data})
	return f.roomResult
}

func (f *fakeEmitter) EmitToAll(event string, data any) int {
	f.allCalls = append(f.allCalls, emitCall{event: event, data: data})
	return f.roomResult
}

func (f *fakeEmitter) TrackedUsers() int {
	return f.tracked
}

type fakeSink struct {
	saved []NotificationPayload
	users []int64
	err   error
}

func (f *fakeSink) SaveNotification(userID int64, p NotificationPayload) error {
	f.users = append(f.users, userID)
	f.saved = append(f.saved, p)
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendToUserDelivered(t *testing.T) {
	req := require.New(t)
	emitter := &fakeEmitter{roomResult: 2}
	d := NewDispatcher(emitter, nil, discardLogger())

	delivered := d.SendToUser(7, NotificationPayload{Type: "mention", Title: "hi"})
	req.True(delivered)
	req.Len(emitter.roomCalls, 1)
	req.Equal("user_7", emitter.roomCalls[0].room)
	req.Equal(EventNotification, emitter.roomCalls[0].event)

	sent, ok := emitter.roomCalls[0].data.(NotificationPayload)
	req.True(ok)
	req.False(sent.Timestamp.IsZero())
}

func TestSendToUserOfflineUser(t *testing.T) {
	d := NewDispatcher(&fakeEmitter{roomResult: 0}, nil, discardLogger())
	require.False(t, d.SendToUser(999, NotificationPayload{Type: "mention"}))
}

func TestSendToUserWithoutTransport(t *testing.T) {
	req := require.New(t)
	sink := &fakeSink{}
	d := NewDispatcher(nil, sink, discardLogger())

	// Not delivered, but still persisted for the next login.
	req.False(d.SendToUser(7, NotificationPayload{Type: "mention"}))
	req.Equal([]int64{7}, sink.users)
}

func TestSendToUserSinkErrorIsSwallowed(t *testing.T) {
	emitter := &fakeEmitter{roomResult: 1}
	sink := &fakeSink{err: errors.New("disk full")}
	d := NewDispatcher(emitter, sink, discardLogger())

	require.True(t, d.SendToUser(7, NotificationPayload{Type: "mention"}))
}

func TestMentionNotificationTruncatesExcerpt(t *testing.T) {
	req := require.New(t)
	emitter := &fakeEmitter{roomResult: 1}
	d := NewDispatcher(emitter, nil, discardLogger())

	excerpt := "a" + strings.Repeat("x", 150)
	req.True(d.SendMentionNotification(7, "ana", excerpt, 99))

	sent := emitter.roomCalls[0].data.(NotificationPayload)
	req.Equal("mention", sent.Type)
	req.Equal("ana mentioned you", sent.Title)
	req.Len([]rune(sent.Message), excerptLimit+3)
	req.True(strings.HasSuffix(sent.Message, "..."))
	req.Contains(sent.ActionURL, "99")
	req.Equal(int64(99), sent.Metadata["postId"])
}

func TestMentionNotificationShortExcerptUntouched(t *testing.T) {
	req := require.New(t)
	emitter := &fakeEmitter{roomResult: 1}
	d := NewDispatcher(emitter, nil, discardLogger())

	d.SendMentionNotification(7, "ana", "short excerpt", 0)

	sent := emitter.roomCalls[0].data.(NotificationPayload)
	req.Equal("short excerpt", sent.Message)
	req.Empty(sent.ActionURL)
}

func TestFriendshipNotificationTemplates(t *testing.T) {
	cases := []struct {
		kind  FriendshipKind
		title string
	}{
		{FriendshipRequest, "New friend request"},
		{FriendshipAccepted, "Friend request accepted"},
		{FriendshipClosenessUpdated, "Closeness updated"},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			req := require.New(t)
			emitter := &fakeEmitter{roomResult: 1}
			d := NewDispatcher(emitter, nil, discardLogger())

			req.True(d.SendFriendshipNotification(5, "maria", tc.kind, nil))

			sent := emitter.roomCalls[0].data.(NotificationPayload)
			req.Equal(string(tc.kind), sent.Type)
			req.Equal(tc.title, sent.Title)
			req.Contains(sent.Message, "maria")
		})
	}
}

func TestFriendshipNotificationUnknownKind(t *testing.T) {
	req := require.New(t)
	emitter := &fakeEmitter{roomResult: 1}
	d := NewDispatcher(emitter, nil, discardLogger())

	req.False(d.SendFriendshipNotification(5, "maria", "blocked", nil))
	req.Empty(emitter.roomCalls)
}

func TestBroadcastToAllReturnsTrackedUsers(t *testing.T) {
	req := require.New(t)
	emitter := &fakeEmitter{roomResult: 12, tracked: 3}
	d := NewDispatcher(emitter, nil, discardLogger())

	req.Equal(3, d.BroadcastToAll(NotificationPayload{Type: "announcement"}))
	req.Len(emitter.allCalls, 1)
	req.Equal(EventNotification, emitter.allCalls[0].event)
}

func TestBroadcastWithoutTransport(t *testing.T) {
	d := NewDispatcher(nil, nil, discardLogger())
	require.Zero(t, d.BroadcastToAll(NotificationPayload{Type: "announcement"}))
}
