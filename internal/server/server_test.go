package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/presence"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const allowedOrigin = "http://chat.example.com"

type testServer struct {
	*Server
	http    *httptest.Server
	tracker *presence.Tracker
}

func newTestServer(t *testing.T, customize func(cfg *Config)) *testServer {
	t.Helper()
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{allowedOrigin}
	cfg.ShutdownTimeout = 2 * time.Second
	if customize != nil {
		customize(&cfg)
	}

	tracker := presence.NewTracker(presence.NewMemoryStore(), discardLogger(), 0, 0)
	srv := New(cfg, discardLogger(), WithPresence(tracker))
	srv.Start()
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
		tracker.Close()
	})
	return &testServer{Server: srv, http: ts, tracker: tracker}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (ts *testServer) stats(t *testing.T) Stats {
	t.Helper()
	stats, err := ts.Hub().Stats(context.Background())
	require.NoError(t, err)
	return stats
}

func emit(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": name, "data": data}))
}

func receive(t *testing.T, conn *websocket.Conn) relay.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt relay.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, msg, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, got %s", msg)
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "unexpected error while waiting for absence of message: %v", err)
}

// setup registers user on conn and waits for the ack.
func setup(t *testing.T, conn *websocket.Conn, user string) {
	t.Helper()
	emit(t, conn, relay.EventSetup, map[string]any{"existingUser": map[string]string{"_id": user}})
	evt := receive(t, conn)
	require.Equal(t, relay.EventConnected, evt.Name)
}

// join enters room and uses a repeated setup as a barrier: the loop handles a
// connection's frames in order, so the ack proves the join was applied.
func join(t *testing.T, conn *websocket.Conn, user, room string) {
	t.Helper()
	emit(t, conn, relay.EventJoinChat, room)
	setup(t, conn, user)
}

func chatUsers(ids ...string) []map[string]string {
	users := make([]map[string]string, len(ids))
	for i, id := range ids {
		users[i] = map[string]string{"_id": id}
	}
	return users
}

func TestWebSocket_SetupAcknowledged(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	setup(t, conn, "alice")

	assert.Equal(t, Stats{Connections: 1, Rooms: 1}, ts.stats(t))
	require.Eventually(t, func() bool {
		online, err := ts.tracker.Store().IsOnline(context.Background(), "alice")
		return err == nil && online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_NewMessageFanOut(t *testing.T) {
	ts := newTestServer(t, nil)
	alice, aliceTab, bob, carol := ts.dial(t), ts.dial(t), ts.dial(t), ts.dial(t)
	setup(t, alice, "alice")
	setup(t, aliceTab, "alice")
	setup(t, bob, "bob")
	setup(t, carol, "carol")

	payload := map[string]any{
		"newMessage": map[string]any{
			"_id":     "m1",
			"content": "hello",
			"sender":  map[string]string{"_id": "alice"},
			"chat":    map[string]any{"_id": "c1", "users": chatUsers("alice", "bob")},
		},
	}
	emit(t, alice, relay.EventNewMessage, payload)

	evt := receive(t, bob)
	assert.Equal(t, relay.EventMessageReceived, evt.Name)
	want, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(evt.Data))

	expectNoMessage(t, alice, 200*time.Millisecond)
	expectNoMessage(t, aliceTab, 100*time.Millisecond)
	expectNoMessage(t, carol, 100*time.Millisecond)
}

func TestWebSocket_TypingStaysInChatRoom(t *testing.T) {
	ts := newTestServer(t, nil)
	alice, bob, carol := ts.dial(t), ts.dial(t), ts.dial(t)
	setup(t, alice, "alice")
	setup(t, bob, "bob")
	setup(t, carol, "carol")
	join(t, alice, "alice", "c1")
	join(t, bob, "bob", "c1")

	emit(t, alice, relay.EventTyping, "c1")

	evt := receive(t, bob)
	assert.Equal(t, relay.EventTyping, evt.Name)
	assert.JSONEq(t, `"c1"`, string(evt.Data))
	expectNoMessage(t, alice, 200*time.Millisecond)
	expectNoMessage(t, carol, 100*time.Millisecond)

	emit(t, bob, relay.EventLeaveChat, "c1")
	setup(t, bob, "bob")
	emit(t, alice, relay.EventStopTyping, "c1")
	expectNoMessage(t, bob, 200*time.Millisecond)
}

func TestWebSocket_GroupEventNotifiesSenderOnce(t *testing.T) {
	ts := newTestServer(t, nil)
	alice, bob := ts.dial(t), ts.dial(t)
	setup(t, alice, "alice")
	setup(t, bob, "bob")

	emit(t, alice, relay.EventUserAdded, map[string]any{
		"updatedChat": map[string]any{"_id": "g1", "chatName": "team", "users": chatUsers("alice", "bob")},
		"name":        "bob",
	})

	for _, conn := range []*websocket.Conn{alice, bob} {
		evt := receive(t, conn)
		assert.Equal(t, relay.EventUserWasAdded, evt.Name)
		var notice struct {
			Chat map[string]any `json:"chat"`
			Name string         `json:"name"`
		}
		require.NoError(t, json.Unmarshal(evt.Data, &notice))
		assert.Equal(t, "g1", notice.Chat["_id"])
		assert.Equal(t, "bob", notice.Name)
	}
	expectNoMessage(t, alice, 200*time.Millisecond)
}

func TestWebSocket_RemoteBroadcast(t *testing.T) {
	ts := newTestServer(t, nil)
	bob := ts.dial(t)
	setup(t, bob, "bob")

	ts.Hub().DeliverRemote(relay.Broadcast{
		Rooms: []relay.RoomKey{"alice", "bob"},
		Event: relay.Event{Name: relay.EventGroupNameChanged, Data: json.RawMessage(`{"chat":{"_id":"g1"}}`)},
	})

	evt := receive(t, bob)
	assert.Equal(t, relay.EventGroupNameChanged, evt.Name)
	assert.JSONEq(t, `{"chat":{"_id":"g1"}}`, string(evt.Data))
}

func TestWebSocket_MalformedFramesAreDropped(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":"no name"}`)))
	emit(t, conn, relay.EventNewMessage, map[string]any{"newMessage": map[string]any{"chat": map[string]any{}}})
	emit(t, conn, "unknown event", nil)

	setup(t, conn, "alice")
}

func TestWebSocket_DisconnectCleansUp(t *testing.T) {
	ts := newTestServer(t, nil)
	alice, bob := ts.dial(t), ts.dial(t)
	setup(t, alice, "alice")
	setup(t, bob, "bob")
	join(t, alice, "alice", "c1")
	require.Equal(t, Stats{Connections: 2, Rooms: 3}, ts.stats(t))

	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		return ts.stats(t) == Stats{Connections: 1, Rooms: 1}
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		online, err := ts.tracker.Store().IsOnline(context.Background(), "alice")
		return err == nil && !online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimitBurst = 1
		cfg.RateLimitRefill = time.Hour
	})
	conn := ts.dial(t)

	setup(t, conn, "alice")
	emit(t, conn, relay.EventSetup, "alice")
	expectNoMessage(t, conn, 200*time.Millisecond)
}

func TestWebSocket_OversizedMessageClosesConnection(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.MaxMessageSize = 64
	})
	conn := ts.dial(t)
	setup(t, conn, "alice")

	emit(t, conn, relay.EventTyping, strings.Repeat("x", 128))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool {
		return ts.stats(t).Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_Origin(t *testing.T) {
	ts := newTestServer(t, nil)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", allowedOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestWebSocketHandler_RejectsNonGet(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.http.URL+"/ws", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)
	setup(t, conn, "alice")

	resp, body := ts.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GoChat relay is running!", body)

	resp, body = ts.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","connections":1,"rooms":1}`, body)

	resp, body = ts.get(t, "/stats")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"connections":1,"rooms":1}`, body)

	resp, body = ts.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `gochat_deliveries_total{event="connected"} 1`)
	assert.Contains(t, body, "gochat_connections 1")

	resp, body = ts.get(t, "/console")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "GoChat Relay Console")

	require.Eventually(t, func() bool {
		_, body := ts.get(t, "/presence")
		return strings.Contains(body, `"alice"`)
	}, 2*time.Second, 10*time.Millisecond)

	_, body = ts.get(t, "/presence/alice")
	assert.JSONEq(t, `{"userId":"alice","online":true}`, body)
	_, body = ts.get(t, "/presence/bob")
	assert.JSONEq(t, `{"userId":"bob","online":false}`, body)
}

func TestHTTPEndpoints_NoPresenceStore(t *testing.T) {
	srv := New(NewConfig(), discardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
