package realtime

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wireReader reads envelopes off a real websocket connection, splitting
// batched frames (the write pump coalesces queued frames with newlines).
type wireReader struct {
	conn    *websocket.Conn
	pending [][]byte
}

func (r *wireReader) next(t *testing.T) Envelope {
	t.Helper()
	if len(r.pending) == 0 {
		require.NoError(t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := r.conn.ReadMessage()
		require.NoError(t, err)
		r.pending = bytes.Split(data, []byte{'\n'})
	}

	var env Envelope
	require.NoError(t, json.Unmarshal(r.pending[0], &env))
	r.pending = r.pending[1:]
	return env
}

func (r *wireReader) expect(t *testing.T, event string) json.RawMessage {
	t.Helper()
	env := r.next(t)
	require.Equal(t, event, env.Event)
	return env.Data
}

type wsFixture struct {
	hub    *Hub
	store  *fakeStore
	server *httptest.Server
}

func newWSFixture(t *testing.T) wsFixture {
	t.Helper()
	hub := startHub(t)
	st := newFakeStore()
	dispatcher := NewDispatcher(hub, nil, discardLogger())
	handlers := NewHandlers(hub, dispatcher, st, nil, false, discardLogger())
	origin := NewOriginPolicy([]string{"*"}, discardLogger())
	wsHandler := NewWSHandler(hub, handlers, origin, ClientOptions{
		MaxMessageSize:  4096,
		RateLimitBurst:  100,
		RateLimitRefill: time.Second,
	}, discardLogger())

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return wsFixture{hub: hub, store: st, server: srv}
}

func (f wsFixture) dial(t *testing.T) (*websocket.Conn, *wireReader) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	header := http.Header{"Origin": {"http://client.test"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	reader := &wireReader{conn: conn}
	reader.expect(t, EventConnected)
	return conn, reader
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := encodeEvent(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestWebSocketAuthenticateEndToEnd(t *testing.T) {
	req := require.New(t)
	fx := newWSFixture(t)
	fx.store.unread[42] = 4

	conn, reader := fx.dial(t)
	send(t, conn, EventAuthenticate, AuthenticatePayload{UserID: 42})

	reader.expect(t, EventAuthenticated)
	var counts CountsUpdatePayload
	req.NoError(json.Unmarshal(reader.expect(t, EventCountsUpdate), &counts))
	req.Equal(4, counts.Notifications)

	req.Eventually(func() bool { return fx.hub.Registry().IsOnline(42) }, time.Second, 10*time.Millisecond)
}

func TestWebSocketDisconnectClearsPresence(t *testing.T) {
	req := require.New(t)
	fx := newWSFixture(t)

	conn, reader := fx.dial(t)
	send(t, conn, EventAuthenticate, AuthenticatePayload{UserID: 42})
	reader.expect(t, EventAuthenticated)
	reader.expect(t, EventCountsUpdate)
	req.True(fx.hub.Registry().IsOnline(42))

	req.NoError(conn.Close())
	req.Eventually(func() bool { return !fx.hub.Registry().IsOnline(42) }, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocketMessageRelayBetweenClients(t *testing.T) {
	req := require.New(t)
	fx := newWSFixture(t)

	senderConn, senderReader := fx.dial(t)
	recipientConn, recipientReader := fx.dial(t)

	send(t, senderConn, EventAuthenticate, AuthenticatePayload{UserID: 1})
	senderReader.expect(t, EventAuthenticated)
	senderReader.expect(t, EventCountsUpdate)

	send(t, recipientConn, EventAuthenticate, AuthenticatePayload{UserID: 2})
	recipientReader.expect(t, EventAuthenticated)
	recipientReader.expect(t, EventCountsUpdate)

	send(t, senderConn, EventSendMessage, SendMessagePayload{SenderID: 1, RecipientID: 2, Content: "milonga tonight?"})

	var msg NewMessagePayload
	req.NoError(json.Unmarshal(recipientReader.expect(t, EventNewMessage), &msg))
	req.Equal("milonga tonight?", msg.Content)
	recipientReader.expect(t, EventNotification)

	var ack MessageSentPayload
	req.NoError(json.Unmarshal(senderReader.expect(t, EventMessageSent), &ack))
	req.True(ack.Success)
}

func TestWebSocketShutdownWithLiveClientReturnsPromptly(t *testing.T) {
	req := require.New(t)
	fx := newWSFixture(t)

	conn, reader := fx.dial(t)
	send(t, conn, EventAuthenticate, AuthenticatePayload{UserID: 9})
	reader.expect(t, EventAuthenticated)
	reader.expect(t, EventCountsUpdate)

	// Both pumps are live; shutdown must unblock them well before the
	// timeout instead of waiting out the ping interval.
	start := time.Now()
	req.NoError(fx.hub.Shutdown(5 * time.Second))
	req.Less(time.Since(start), 2*time.Second)
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	hub := startHub(t)
	handlers := NewHandlers(hub, NewDispatcher(hub, nil, discardLogger()), nil, nil, false, discardLogger())
	origin := NewOriginPolicy([]string{"https://mundotango.life"}, discardLogger())
	wsHandler := NewWSHandler(hub, handlers, origin, ClientOptions{}, discardLogger())

	srv := httptest.NewServer(wsHandler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketEndpointRejectsNonGet(t *testing.T) {
	fx := newWSFixture(t)
	resp, err := http.Post(fx.server.URL+"/ws", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
