package main

import (
	"time"

	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/store"
)

// notificationSink adapts the store to the dispatcher's persistence surface.
type notificationSink struct {
	st *store.Store
}

func (s notificationSink) SaveNotification(userID int64, p realtime.NotificationPayload) error {
	return s.st.SaveNotification(store.Notification{
		UserID:    userID,
		Type:      p.Type,
		Title:     p.Title,
		Message:   p.Message,
		ActionURL: p.ActionURL,
		Metadata:  p.Metadata,
		CreatedAt: p.Timestamp,
	})
}

// storeAdapter adapts the store to the event handlers' persistence surface.
type storeAdapter struct {
	st *store.Store
}

func (a storeAdapter) UnreadNotificationCount(userID int64) (int, error) {
	return a.st.UnreadNotificationCount(userID)
}

func (a storeAdapter) PendingFriendRequestCount(userID int64) (int, error) {
	return a.st.PendingFriendRequestCount(userID)
}

func (a storeAdapter) SaveMessage(senderID, recipientID int64, content string, sentAt time.Time) error {
	return a.st.SaveMessage(store.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		SentAt:      sentAt,
	})
}

func (a storeAdapter) SaveFriendRequest(requestID string, fromUserID, toUserID int64) error {
	return a.st.SaveFriendRequest(store.FriendRequest{
		ID:         requestID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
	})
}

func (a storeAdapter) ResolveFriendRequest(toUserID int64, requestID string, accepted bool) error {
	return a.st.ResolveFriendRequest(toUserID, requestID, accepted)
}
