package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/episensor/app-template/internal/hub"
)

type testServer struct {
	hub      *hub.Hub
	dispatch *hub.Dispatcher
	srv      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	h := hub.New(logger)
	d := hub.NewDispatcher(h, logger)
	srv := httptest.NewServer(NewHandler(h, d, logger))
	t.Cleanup(srv.Close)
	return &testServer{hub: h, dispatch: d, srv: srv}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var f wireFrame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// connectAndAck dials and consumes the connection acknowledgement,
// returning the conn with its assigned id.
func connectAndAck(t *testing.T, ts *testServer) (*websocket.Conn, string) {
	t.Helper()
	conn := ts.dial(t)
	ack := readFrame(t, conn)
	require.Equal(t, "connected", ack.Event)
	id, _ := ack.Data["socketId"].(string)
	require.NotEmpty(t, id)
	return conn, id
}

func TestConnectAcknowledges(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	ack := readFrame(t, conn)
	assert.Equal(t, "connected", ack.Event)
	assert.NotEmpty(t, ack.Data["socketId"])
	assert.NotEmpty(t, ack.Data["timestamp"])
	assert.Equal(t, "connected", ack.Data["message"])
}

func TestAuthenticate(t *testing.T) {
	ts := newTestServer(t)
	conn, id := connectAndAck(t, ts)

	sendEvent(t, conn, "authenticate", map[string]any{
		"username": "ops",
		"roles":    []string{"admin", "viewer"},
	})

	f := readFrame(t, conn)
	assert.Equal(t, "authenticated", f.Event)
	assert.Equal(t, true, f.Data["success"])
	user, _ := f.Data["user"].(map[string]any)
	require.NotNil(t, user)
	assert.Equal(t, "ops", user["username"])
	assert.Equal(t, []any{"admin", "viewer"}, user["roles"])

	info, ok := ts.hub.Info(id)
	require.True(t, ok)
	assert.Equal(t, "ops", info.Username)
}

func TestRoomLifecycle(t *testing.T) {
	ts := newTestServer(t)
	first, _ := connectAndAck(t, ts)
	second, secondID := connectAndAck(t, ts)

	sendEvent(t, first, "join-room", map[string]any{"room": "alerts"})
	f := readFrame(t, first)
	assert.Equal(t, "room-joined", f.Event)
	assert.Equal(t, "alerts", f.Data["room"])

	sendEvent(t, second, "join-room", map[string]any{"room": "alerts"})
	f = readFrame(t, second)
	assert.Equal(t, "room-joined", f.Event)

	// The first member hears about the arrival; the joiner does not hear
	// about itself.
	f = readFrame(t, first)
	assert.Equal(t, "user-joined", f.Event)
	assert.Equal(t, secondID, f.Data["socketId"])
	assert.Equal(t, "alerts", f.Data["room"])

	sendEvent(t, second, "leave-room", map[string]any{"room": "alerts"})
	f = readFrame(t, second)
	assert.Equal(t, "room-left", f.Event)

	f = readFrame(t, first)
	assert.Equal(t, "user-left", f.Event)
	assert.Equal(t, secondID, f.Data["socketId"])
}

func TestMessageBroadcastsToAll(t *testing.T) {
	ts := newTestServer(t)
	sender, senderID := connectAndAck(t, ts)
	receiver, _ := connectAndAck(t, ts)

	sendEvent(t, sender, "message", map[string]any{"text": "hello"})

	for _, conn := range []*websocket.Conn{sender, receiver} {
		f := readFrame(t, conn)
		assert.Equal(t, "broadcast", f.Event)
		assert.Equal(t, map[string]any{"text": "hello"}, f.Data["data"])
		assert.Equal(t, senderID, f.Data["senderId"])
		assert.NotEmpty(t, f.Data["timestamp"])
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := connectAndAck(t, ts)

	sendEvent(t, conn, "subscribe", map[string]any{
		"type":    "metrics",
		"filters": map[string]any{"device": "plant-1"},
	})
	f := readFrame(t, conn)
	assert.Equal(t, "subscribed", f.Event)
	assert.Equal(t, "metrics", f.Data["type"])
	assert.Equal(t, `metrics_{"device":"plant-1"}`, f.Data["room"])

	n := ts.dispatch.PublishTyped("metrics", map[string]any{"cpu": 42}, map[string]any{"device": "plant-1"})
	assert.Equal(t, 1, n)

	f = readFrame(t, conn)
	assert.Equal(t, "data-update", f.Event)
	assert.Equal(t, "metrics", f.Data["type"])
	assert.Equal(t, map[string]any{"cpu": float64(42)}, f.Data["data"])
	assert.Equal(t, map[string]any{"device": "plant-1"}, f.Data["filters"])

	sendEvent(t, conn, "unsubscribe", map[string]any{
		"type":    "metrics",
		"filters": map[string]any{"device": "plant-1"},
	})
	f = readFrame(t, conn)
	assert.Equal(t, "unsubscribed", f.Event)

	assert.Zero(t, ts.dispatch.PublishTyped("metrics", "ignored", map[string]any{"device": "plant-1"}))
}

func TestSubscribeFilterMismatchIsolated(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := connectAndAck(t, ts)

	sendEvent(t, conn, "subscribe", map[string]any{
		"type":    "metrics",
		"filters": map[string]any{"device": "plant-2"},
	})
	readFrame(t, conn)

	n := ts.dispatch.PublishTyped("metrics", "payload", map[string]any{"device": "plant-1"})
	assert.Zero(t, n)

	// The very next frame the subscriber sees must be this broadcast, not
	// the mismatched update.
	ts.dispatch.BroadcastAll("sentinel", "")
	f := readFrame(t, conn)
	assert.Equal(t, "broadcast", f.Event)
	assert.Equal(t, "sentinel", f.Data["data"])
}

func TestMalformedEventKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := connectAndAck(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Event)
	assert.Equal(t, "malformed event", f.Data["message"])

	// Still usable afterwards.
	sendEvent(t, conn, "join-room", map[string]any{"room": "alerts"})
	f = readFrame(t, conn)
	assert.Equal(t, "room-joined", f.Event)
}

func TestUnknownEvent(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := connectAndAck(t, ts)

	sendEvent(t, conn, "self-destruct", nil)
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Event)
	assert.Contains(t, f.Data["message"], "unknown event")
}

func TestJoinRoomRequiresName(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := connectAndAck(t, ts)

	sendEvent(t, conn, "join-room", map[string]any{})
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Event)
	assert.Contains(t, f.Data["message"], "room name")
}

func TestSubscribeRequiresType(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := connectAndAck(t, ts)

	sendEvent(t, conn, "subscribe", map[string]any{"filters": map[string]any{"a": 1}})
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Event)
	assert.Contains(t, f.Data["message"], "type")
}

func TestForcedDisconnectDeliversReason(t *testing.T) {
	ts := newTestServer(t)
	conn, id := connectAndAck(t, ts)

	require.NoError(t, ts.hub.Disconnect(id, "kicked by operator"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "kicked by operator", closeErr.Text)

	assert.False(t, ts.hub.IsConnected(id))
}

func TestClientDisconnectCascades(t *testing.T) {
	ts := newTestServer(t)
	watcher, _ := connectAndAck(t, ts)
	leaver, leaverID := connectAndAck(t, ts)

	sendEvent(t, watcher, "join-room", map[string]any{"room": "alerts"})
	readFrame(t, watcher) // room-joined
	sendEvent(t, leaver, "join-room", map[string]any{"room": "alerts"})
	readFrame(t, leaver)  // room-joined
	readFrame(t, watcher) // user-joined

	require.NoError(t, leaver.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	f := readFrame(t, watcher)
	assert.Equal(t, "user-left", f.Event)
	assert.Equal(t, leaverID, f.Data["socketId"])
	assert.Equal(t, "alerts", f.Data["room"])
}
