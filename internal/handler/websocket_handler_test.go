package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"serial-service/internal/events"
	"serial-service/internal/model"
)

type wsFixture struct {
	bus     *events.Bus
	manager *fakeManager
	handler *WebSocketHandler
	server  *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	bus := events.NewBus(16, logger)
	go bus.Run(ctx)

	f := &wsFixture{bus: bus, manager: &fakeManager{}}
	f.handler = NewWebSocketHandler(bus, f.manager, nil, logger)

	router := gin.New()
	f.handler.RegisterRoutes(router.Group("/ws"))
	f.server = httptest.NewServer(router)

	t.Cleanup(func() {
		f.handler.Close()
		f.server.Close()
		cancel()
	})
	return f
}

func (f *wsFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	first := readMessage(t, conn)
	require.Equal(t, "initial_status", first.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages of other types
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) WebSocketMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s message received", msgType)
	return WebSocketMessage{}
}

func waitForClients(t *testing.T, h *WebSocketHandler, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Connections().GetStats().TotalConnections == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "")
	waitForClients(t, f.handler, 1)

	f.bus.Emit(model.EventDataReceived, "serial_reader", map[string]any{"line": "TEMP:21.5"})

	msg := readUntil(t, conn, "event")
	data := msg.Data.(map[string]any)
	assert.Equal(t, string(model.EventDataReceived), data["type"])
	assert.Equal(t, "TEMP:21.5", data["data"].(map[string]any)["line"])
}

func TestWebSocket_QueryFilter(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "?types=connection_changed")
	waitForClients(t, f.handler, 1)

	f.bus.Emit(model.EventDataReceived, "serial_reader", map[string]any{"line": "noise"})
	f.bus.Emit(model.EventConnectionChanged, "serial_manager", map[string]any{"connected": true})

	msg := readUntil(t, conn, "event")
	assert.Equal(t, string(model.EventConnectionChanged), msg.Data.(map[string]any)["type"])
}

func TestWebSocket_SubscribeAndUnsubscribe(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteJSON(WebSocketMessage{
		Type:      "subscribe",
		Data:      map[string]any{"types": []string{"error", "signal_processed"}},
		RequestID: "sub-1",
	}))
	msg := readUntil(t, conn, "subscription_confirmed")
	assert.Equal(t, "sub-1", msg.RequestID)
	assert.Len(t, msg.Data.(map[string]any)["types"], 2)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{
		Type: "unsubscribe",
		Data: map[string]any{"type": "error"},
	}))
	msg = readUntil(t, conn, "unsubscription_confirmed")
	assert.Equal(t, []any{"signal_processed"}, msg.Data.(map[string]any)["types"])

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "subscribe", Data: map[string]any{}}))
	msg = readUntil(t, conn, "error")
	assert.Equal(t, "no event types given", msg.Data.(map[string]any)["error"])
}

func TestWebSocket_PingAndStatus(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping", RequestID: "p1"}))
	msg := readUntil(t, conn, "pong")
	assert.Equal(t, "p1", msg.RequestID)

	require.NoError(t, f.manager.Connect("COM3"))
	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "status"}))
	msg = readUntil(t, conn, "status")
	assert.Equal(t, true, msg.Data.(map[string]any)["connected"])

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "bogus"}))
	msg = readUntil(t, conn, "error")
	assert.Contains(t, msg.Data.(map[string]any)["error"], "bogus")
}

func TestWebSocket_Commands(t *testing.T) {
	f := newWSFixture(t)
	f.manager.resp = &model.ProtocolResponse{Status: model.StatusSuccess, Data: "OK"}
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteJSON(WebSocketMessage{
		Type:      "command",
		Data:      map[string]any{"command": "STATUS", "wait": true, "timeout_ms": 500, "retries": 1},
		RequestID: "c1",
	}))
	msg := readUntil(t, conn, "command_response")
	assert.Equal(t, "c1", msg.RequestID)
	data := msg.Data.(map[string]any)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "OK", data["response"].(map[string]any)["data"])

	f.manager.mutex.Lock()
	assert.Equal(t, 500*time.Millisecond, f.manager.lastWait)
	assert.Equal(t, 1, f.manager.lastCmd.Retries)
	f.manager.mutex.Unlock()

	require.NoError(t, conn.WriteJSON(WebSocketMessage{
		Type: "command",
		Data: map[string]any{"command": "LED ON"},
	}))
	msg = readUntil(t, conn, "command_response")
	assert.Equal(t, true, msg.Data.(map[string]any)["success"])

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "command", Data: map[string]any{"command": " "}}))
	msg = readUntil(t, conn, "error")
	assert.Equal(t, "command is required", msg.Data.(map[string]any)["error"])
}

func TestWebSocket_ClientUnregisteredOnClose(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "")
	waitForClients(t, f.handler, 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	waitForClients(t, f.handler, 0)
	assert.Eventually(t, func() bool { return f.bus.Stats().Subscribers == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/events", nil)

	assert.True(t, originChecker(nil)(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.True(t, originChecker([]string{"*"})(req))
	assert.False(t, originChecker([]string{"http://lab.local"})(req))

	req.Header.Set("Origin", "http://lab.local")
	assert.True(t, originChecker([]string{"http://lab.local"})(req))
}
