package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHTTPServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := newTestServer()
	httpServer := httptest.NewServer(s.Handler())
	t.Cleanup(httpServer.Close)
	return s, httpServer.URL
}

func dialWebsocket(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/websocket"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(ClientMessage{Type: msgType, Payload: raw})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Type, msg.Payload
}

func TestWebsocketCreateRoomRoundTrip(t *testing.T) {
	_, baseURL := setupHTTPServer(t)
	conn := dialWebsocket(t, baseURL)

	sendMessage(t, conn, MsgCreateRoom, CreateRoomRequest{Name: "alice"})

	msgType, payload := readMessage(t, conn)
	require.Equal(t, MsgRoomCreated, msgType)

	var resp RoomCreatedResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Len(t, resp.RoomCode, 5)
	assert.NotEmpty(t, resp.PlayerID)
}

func TestWebsocketPing(t *testing.T) {
	_, baseURL := setupHTTPServer(t)
	conn := dialWebsocket(t, baseURL)

	sendMessage(t, conn, MsgPing, PingRequest{})

	msgType, _ := readMessage(t, conn)
	assert.Equal(t, MsgPong, msgType)
}

func TestWebsocketUndecodableFrameIsDropped(t *testing.T) {
	_, baseURL := setupHTTPServer(t)
	conn := dialWebsocket(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	// The connection survives and answers the next valid message; garbage
	// gets no reply at all.
	sendMessage(t, conn, MsgPing, PingRequest{})
	msgType, _ := readMessage(t, conn)
	assert.Equal(t, MsgPong, msgType)
}

func TestWebsocketDisconnectCleansUpSession(t *testing.T) {
	s, baseURL := setupHTTPServer(t)
	conn := dialWebsocket(t, baseURL)

	sendMessage(t, conn, MsgCreateRoom, CreateRoomRequest{Name: "alice"})
	msgType, payload := readMessage(t, conn)
	require.Equal(t, MsgRoomCreated, msgType)
	var resp RoomCreatedResponse
	require.NoError(t, json.Unmarshal(payload, &resp))

	conn.Close(websocket.StatusNormalClosure, "bye")

	// The room was still in the lobby, so the closed socket empties it and
	// the sweep-free destroy path fires immediately.
	require.Eventually(t, func() bool {
		return s.roomByID(resp.RoomCode) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	_, baseURL := setupHTTPServer(t)

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap HealthSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "up", snap.Status)
	assert.False(t, snap.ArchiveEnabled)
}

func TestStatsEndpoint(t *testing.T) {
	s, baseURL := setupHTTPServer(t)
	createTestRoom(t, s, "alice", 4)

	resp, err := http.Get(baseURL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap StatsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.RoomCount)
}

func TestMetricsEndpoint(t *testing.T) {
	s, baseURL := setupHTTPServer(t)
	createTestRoom(t, s, "alice", 4)

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tienlen_active_rooms")
}

func TestMatchesEndpointWithoutArchive(t *testing.T) {
	_, baseURL := setupHTTPServer(t)

	resp, err := http.Get(baseURL + "/matches?room=ABCDE")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSHeaders(t *testing.T) {
	_, baseURL := setupHTTPServer(t)

	req, err := http.NewRequest(http.MethodOptions, baseURL+"/health", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
