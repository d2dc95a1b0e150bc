package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/escra-platform/portal/internal/model"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// StatusSource provides the current tracking sent on subscribe.
type StatusSource interface {
	Get(ctx context.Context, entityType model.EntityType, entityID string) (*model.StatusTracking, error)
}

// Handler serves status channel connections.
type Handler struct {
	hubManager *HubManager
	source     StatusSource
	upgrader   websocket.Upgrader
}

// NewHandler creates a handler. An empty allowedOrigins accepts any origin.
func NewHandler(hubManager *HubManager, source StatusSource, allowedOrigins []string) *Handler {
	return &Handler{
		hubManager: hubManager,
		source:     source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// HandleConnection upgrades the request and subscribes the connection to
// the entity's channel. The current tracking, if any, is sent first.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, entityType model.EntityType, entityID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	channel := ChannelKey(entityType, entityID)
	hub, client := h.hubManager.Join(channel, conn)

	h.sendInitialStatus(r.Context(), client, entityType, entityID)

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

func (h *Handler) sendInitialStatus(ctx context.Context, client *Client, entityType model.EntityType, entityID string) {
	if h.source == nil {
		return
	}
	tracking, err := h.source.Get(ctx, entityType, entityID)
	if err != nil {
		if !errors.Is(err, model.ErrTrackingNotFound) {
			log.Printf("Failed to load initial status for %s/%s: %v", entityType, entityID, err)
		}
		return
	}

	msg := &Message{
		Type:       MessageTypeInitialStatus,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     tracking,
		Timestamp:  time.Now(),
	}
	if err := client.SendMessage(msg); err != nil {
		log.Printf("Failed to marshal initial status: %v", err)
	}
}

// readPump drains client frames. Only "ping" is answered; anything else is
// a keepalive.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on %s: %v", client.Channel(), err)
			}
			break
		}
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			client.SendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now()})
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per message so every frame is a complete JSON document.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastStatusChange sends a status_change message to the subscribers
// of the tracking's channel.
func (h *Handler) BroadcastStatusChange(tracking *model.StatusTracking, change model.StatusChange) {
	hub := h.hubManager.Get(ChannelKey(tracking.EntityType, tracking.EntityID))
	if hub == nil {
		return
	}

	msg := &Message{
		Type:       MessageTypeStatusChange,
		EntityType: tracking.EntityType,
		EntityID:   tracking.EntityID,
		Status:     tracking,
		Change:     &change,
		Timestamp:  time.Now(),
	}
	if err := hub.BroadcastMessage(msg); err != nil {
		log.Printf("Failed to broadcast status change: %v", err)
	}
}
