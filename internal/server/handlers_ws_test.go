package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/platform/config"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/realtime"
)

func startWSServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilType reads frames until one with the wanted type arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, messageType string) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for a %s frame", messageType)

		var env realtime.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == messageType {
			return env
		}
	}
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, messageType string, data any) {
	t.Helper()
	env, err := realtime.NewEnvelope(messageType, data, time.Now())
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func TestWebSocket_HandshakeGreeting(t *testing.T) {
	_, ts := startWSServer(t, testConfig())

	conn := dialWS(t, ts, "userId=alice&workspaceId=w1&projectId=p1")

	env := readUntilType(t, conn, "connection_established")
	var greeting struct {
		ConnectionID string `json:"connectionId"`
		UserID       string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &greeting))
	assert.NotEmpty(t, greeting.ConnectionID)
	assert.Equal(t, "alice", greeting.UserID)
	assert.Greater(t, env.Timestamp, int64(0))
}

func TestWebSocket_MissingUserIDClosedWithPolicyViolation(t *testing.T) {
	_, ts := startWSServer(t, testConfig())

	// The upgrade itself succeeds; admission then refuses the connection.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "workspaceId=w1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected a policy-violation close, got %v", err)
}

func TestWebSocket_PingPong(t *testing.T) {
	_, ts := startWSServer(t, testConfig())

	conn := dialWS(t, ts, "userId=alice")
	readUntilType(t, conn, "connection_established")

	sendEnvelope(t, conn, "ping", nil)

	readUntilType(t, conn, "pong")
}

func TestWebSocket_RoomBroadcastBetweenClients(t *testing.T) {
	_, ts := startWSServer(t, testConfig())

	alice := dialWS(t, ts, "userId=alice")
	bob := dialWS(t, ts, "userId=bob")
	readUntilType(t, alice, "connection_established")
	readUntilType(t, bob, "connection_established")

	sendEnvelope(t, alice, "join_room", map[string]string{"roomId": "r1"})
	sendEnvelope(t, bob, "join_room", map[string]string{"roomId": "r1"})
	readUntilType(t, alice, "room_joined")
	readUntilType(t, bob, "room_joined")

	sendEnvelope(t, alice, "broadcast_to_room", map[string]any{
		"roomId":  "r1",
		"payload": map[string]string{"text": "hello"},
	})

	env := readUntilType(t, bob, "room_broadcast")
	var data struct {
		RoomID  string          `json:"roomId"`
		From    string          `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "r1", data.RoomID)
	assert.Equal(t, "alice", data.From)
	assert.JSONEq(t, `{"text":"hello"}`, string(data.Payload))
}

func TestWebSocket_AutoJoinReceivesCollaboratorPush(t *testing.T) {
	srv, ts := startWSServer(t, testConfig())

	conn := dialWS(t, ts, "userId=alice&projectId=p1")
	readUntilType(t, conn, "connection_established")

	reached := srv.events.BugCreated("p1", json.RawMessage(`{"bugId":"b1"}`))
	assert.Equal(t, 1, reached)

	env := readUntilType(t, conn, "room_broadcast")
	var data struct {
		RoomID string `json:"roomId"`
		Event  string `json:"event"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "project:p1", data.RoomID)
	assert.Equal(t, "bug_created", data.Event)
}

func TestWebSocket_NotifyEndpointReachesClient(t *testing.T) {
	_, ts := startWSServer(t, testConfig())

	conn := dialWS(t, ts, "userId=alice&projectId=p1")
	readUntilType(t, conn, "connection_established")

	body := strings.NewReader(`{"event":"task_updated","payload":{"taskId":"t1"}}`)
	resp, err := http.Post(ts.URL+"/api/notify/room/project:p1", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	readUntilType(t, conn, "room_broadcast")
}

func TestWebSocket_MalformedFrameIsIgnored(t *testing.T) {
	_, ts := startWSServer(t, testConfig())

	conn := dialWS(t, ts, "userId=alice")
	readUntilType(t, conn, "connection_established")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

	// Connection survives; a ping still round-trips.
	sendEnvelope(t, conn, "ping", nil)
	readUntilType(t, conn, "pong")
}

func TestWebSocket_CapacityLimitRejectsHandshake(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	_, ts := startWSServer(t, cfg)

	conn := dialWS(t, ts, "userId=alice")
	readUntilType(t, conn, "connection_established")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "userId=bob"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocket_PerIPLimitRejectsHandshake(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	_, ts := startWSServer(t, cfg)

	conn := dialWS(t, ts, "userId=alice")
	readUntilType(t, conn, "connection_established")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "userId=bob"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocket_HandshakeRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeRatePerSecond = 1
	cfg.HandshakeBurst = 1
	_, ts := startWSServer(t, cfg)

	conn := dialWS(t, ts, "userId=alice")
	readUntilType(t, conn, "connection_established")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "userId=bob"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocket_ClientCloseReleasesSlot(t *testing.T) {
	srv, ts := startWSServer(t, testConfig())

	conn := dialWS(t, ts, "userId=alice")
	readUntilType(t, conn, "connection_established")
	require.Eventually(t, func() bool { return srv.limiter.Current() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return srv.limiter.Current() == 0 && srv.registry.Health().Active == 0
	}, 2*time.Second, 5*time.Millisecond)
}
