package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/escra-platform/portal/internal/model"
	"github.com/gorilla/websocket"
)

// MessageType represents the type of a status channel message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypePing MessageType = "ping"

	// Server -> Client message types
	MessageTypeInitialStatus MessageType = "initial_status"
	MessageTypeStatusChange  MessageType = "status_change"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Message is a frame on a status channel.
type Message struct {
	Type       MessageType           `json:"type"`
	EntityType model.EntityType      `json:"entity_type,omitempty"`
	EntityID   string                `json:"entity_id,omitempty"`
	Status     *model.StatusTracking `json:"status,omitempty"`
	Change     *model.StatusChange   `json:"change,omitempty"`
	Error      string                `json:"error,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// ChannelKey names the hub of one tracked entity.
func ChannelKey(entityType model.EntityType, entityID string) string {
	return string(entityType) + "/" + entityID
}

// Client represents a WebSocket client connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	channel string
	send    chan []byte
	mu      sync.Mutex
	closed  bool
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, channel string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		channel: channel,
		send:    make(chan []byte, 256),
	}
}

// Send queues a message to be sent to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Slow consumer
		c.closeLocked()
	}
}

// SendMessage marshals and queues msg.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.Send(data)
	return nil
}

// Close closes the client's send queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Channel returns the channel key the client subscribed to.
func (c *Client) Channel() string {
	return c.channel
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub fans status messages out to the subscribers of one channel.
type Hub struct {
	channel string
	clients map[*Client]bool
	mu      sync.RWMutex

	onClose func()
}

// NewHub creates a new Hub for the given channel.
func NewHub(channel string) *Hub {
	return &Hub{
		channel: channel,
		clients: make(map[*Client]bool),
	}
}

// Channel returns the channel key of this hub.
func (h *Hub) Channel() string {
	return h.channel
}

// SetOnClose sets the callback for when the last client leaves.
func (h *Hub) SetOnClose(callback func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = callback
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	clientCount := len(h.clients)
	onClose := h.onClose
	h.mu.Unlock()

	client.Close()

	if clientCount == 0 && onClose != nil {
		onClose()
	}
}

// Broadcast sends raw data to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// BroadcastMessage sends a Message to all connected clients.
func (h *Hub) BroadcastMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections of the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager owns the hubs of all channels.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewHubManager creates a new HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*Hub),
	}
}

// Join registers a new client for conn on channel. Hubs created here
// remove themselves when their last client leaves; creation and
// registration share one lock so an emptying hub is never dropped in
// between.
func (m *HubManager) Join(channel string, conn *websocket.Conn) (*Hub, *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[channel]
	if !ok {
		hub = NewHub(channel)
		hub.SetOnClose(func() {
			m.removeIfEmpty(channel, hub)
		})
		m.hubs[channel] = hub
	}
	client := NewClient(hub, conn, channel)
	hub.Register(client)
	return hub, client
}

func (m *HubManager) removeIfEmpty(channel string, hub *Hub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.hubs[channel]; ok && current == hub && hub.ClientCount() == 0 {
		delete(m.hubs, channel)
	}
}

// Get returns the hub for the channel, or nil if not found.
func (m *HubManager) Get(channel string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[channel]
}

// Count returns the number of live hubs.
func (m *HubManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hubs)
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
