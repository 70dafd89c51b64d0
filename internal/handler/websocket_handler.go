// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"serial-service/internal/events"
	"serial-service/internal/model"
	"serial-service/internal/utils"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	commandTimeout = 30 * time.Second
)

// EventSubscriber hands out bus subscriptions
type EventSubscriber interface {
	Subscribe(types ...model.EventType) *events.Subscription
}

// DeviceCommander is what WebSocket clients may drive
type DeviceCommander interface {
	SendCommand(text string, params map[string]any) error
	SendAndWait(ctx context.Context, cmd model.Command, timeout time.Duration) (*model.ProtocolResponse, error)
	IsConnected() bool
	State() model.ConnectionState
}

// WebSocketHandler streams bus events to WebSocket clients and accepts
// device commands from them
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	bus         EventSubscriber
	commander   DeviceCommander
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. allowedOrigins empty
// or containing "*" accepts every origin.
func NewWebSocketHandler(bus EventSubscriber, commander DeviceCommander, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		bus:         bus,
		commander:   commander,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/clients", h.ListClients)
}

// Connections returns the client registry
func (h *WebSocketHandler) Connections() *ConnectionManager {
	return h.connections
}

// Close disconnects every client
func (h *WebSocketHandler) Close() {
	h.connections.CloseAll()
}

// ListClients lists the connected WebSocket clients
func (h *WebSocketHandler) ListClients(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket clients retrieved", h.connections.GetStats())
}

// HandleEventConnection upgrades the request and streams events. The
// optional ?types=a,b query preselects event types.
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := newClient(conn, c.Request.UserAgent(), c.Request.RemoteAddr, uuid.New().String())
	if raw := c.Query("types"); raw != "" {
		client.Subscribe(parseEventTypes(strings.Split(raw, ","))...)
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	sub := h.bus.Subscribe()
	h.sendInitialStatus(client)

	go h.forwardEvents(client, sub)
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

func (h *WebSocketHandler) sendInitialStatus(client *Client) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "initial_status",
		Data: map[string]interface{}{
			"client_id": client.ID,
			"connected": h.commander.IsConnected(),
			"state":     h.commander.State(),
		},
		Timestamp: time.Now(),
	})
}

func (h *WebSocketHandler) forwardEvents(client *Client, sub *events.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-client.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				h.connections.Unregister(client)
				return
			}
			if !client.Wants(event.Type) {
				continue
			}
			h.sendMessage(client, &WebSocketMessage{
				Type:      "event",
				Data:      event,
				Timestamp: event.Timestamp,
			})
		}
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Event WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Warn("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case <-client.Done():
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				h.connections.Unregister(client)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.connections.Unregister(client)
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		h.handleSubscription(client, message, true)
	case "unsubscribe":
		h.handleSubscription(client, message, false)
	case "command":
		h.handleCommand(client, message)
	case "status":
		h.sendMessage(client, &WebSocketMessage{
			Type: "status",
			Data: map[string]interface{}{
				"connected": h.commander.IsConnected(),
				"state":     h.commander.State(),
			},
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// handleSubscription adds or removes event types. Data is either
// {"types": [...]} or {"type": "..."}.
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage, subscribe bool) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, message.RequestID, "subscription data is required")
		return
	}

	var names []string
	if t, ok := data["type"].(string); ok {
		names = append(names, t)
	}
	if list, ok := data["types"].([]interface{}); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}
	types := parseEventTypes(names)
	if len(types) == 0 {
		h.sendError(client, message.RequestID, "no event types given")
		return
	}

	reply := "subscription_confirmed"
	if subscribe {
		client.Subscribe(types...)
	} else {
		client.Unsubscribe(types...)
		reply = "unsubscription_confirmed"
	}
	h.logger.Debug("Client subscriptions changed",
		zap.String("client_id", client.ID),
		zap.Bool("subscribe", subscribe),
		zap.Int("types", len(types)),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      reply,
		Data:      map[string]interface{}{"types": client.Subscriptions()},
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// handleCommand validates a command message and executes it off the read loop
func (h *WebSocketHandler) handleCommand(client *Client, message *WebSocketMessage) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, message.RequestID, "invalid command data")
		return
	}

	command, ok := data["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		h.sendError(client, message.RequestID, "command is required")
		return
	}

	go h.executeCommand(client, message.RequestID, command, data)
}

func (h *WebSocketHandler) executeCommand(client *Client, requestID, command string, data map[string]interface{}) {
	params, _ := data["params"].(map[string]interface{})
	wait, _ := data["wait"].(bool)

	result := map[string]interface{}{"command": command}

	if !wait {
		err := h.commander.SendCommand(command, params)
		result["success"] = err == nil
		if err != nil {
			result["error"] = err.Error()
		}
		h.sendMessage(client, &WebSocketMessage{Type: "command_response", Data: result, Timestamp: time.Now(), RequestID: requestID})
		return
	}

	cmd := model.Command{Text: command, Params: params}
	if retries, ok := data["retries"].(float64); ok && retries > 0 {
		cmd.Retries = int(retries)
	}
	if expected, ok := data["expected_response"].(string); ok {
		cmd.ExpectedResponse = expected
	}
	var timeout time.Duration
	if ms, ok := data["timeout_ms"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	resp, err := h.commander.SendAndWait(ctx, cmd, timeout)
	if err != nil {
		result["success"] = false
		result["error"] = err.Error()
	} else {
		result["success"] = resp.IsSuccess()
		result["response"] = resp
	}

	h.sendMessage(client, &WebSocketMessage{Type: "command_response", Data: result, Timestamp: time.Now(), RequestID: requestID})
}

// sendMessage queues a message for the client, dropping it when the
// client's buffer is full
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case <-client.Done():
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

func parseEventTypes(names []string) []model.EventType {
	types := make([]model.EventType, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			types = append(types, model.EventType(name))
		}
	}
	return types
}
