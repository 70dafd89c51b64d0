// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"serial-service/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	done      chan struct{}
	closeOnce sync.Once

	mutex         sync.RWMutex
	subscriptions map[model.EventType]bool
}

func newClient(conn *websocket.Conn, userAgent, remoteAddr, id string) *Client {
	return &Client{
		ID:            id,
		Connection:    conn,
		Send:          make(chan []byte, 256),
		UserAgent:     userAgent,
		RemoteAddr:    remoteAddr,
		ConnectedAt:   time.Now(),
		done:          make(chan struct{}),
		subscriptions: make(map[model.EventType]bool),
	}
}

// Wants reports whether the client receives events of type t. A client
// with no subscriptions receives everything.
func (c *Client) Wants(t model.EventType) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

// Subscribe adds event types to the client's filter
func (c *Client) Subscribe(types ...model.EventType) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, t := range types {
		c.subscriptions[t] = true
	}
}

// Unsubscribe removes event types from the client's filter
func (c *Client) Unsubscribe(types ...model.EventType) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, t := range types {
		delete(c.subscriptions, t)
	}
}

// Subscriptions lists the filtered event types
func (c *Client) Subscriptions() []model.EventType {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]model.EventType, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		out = append(out, t)
	}
	return out
}

// Done is closed once the client is unregistered
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConnectionManager tracks live WebSocket clients
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{clients: make(map[string]*Client)}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister removes a client and signals its goroutines to stop
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	delete(cm.clients, client.ID)
	cm.mutex.Unlock()
	client.close()
}

// Clients returns a snapshot of the registered clients
func (cm *ConnectionManager) Clients() []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	return clients
}

// CloseAll unregisters every client
func (cm *ConnectionManager) CloseAll() {
	for _, client := range cm.Clients() {
		cm.Unregister(client)
		client.Connection.Close()
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	clients := cm.Clients()
	return &ConnectionStats{
		TotalConnections: len(clients),
		Clients:          clients,
	}
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
