package handlers

import (
	"log"
	"net/http"

	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/ws"
	"github.com/gin-gonic/gin"
)

// WebSocketHandler serves the real-time status channel.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Subscribe handles WS /api/status/ws/:entityType/:entityId.
func (h *WebSocketHandler) Subscribe(c *gin.Context) {
	entityType, entityID := entityParams(c)
	if !entityType.Valid() {
		sendError(c, http.StatusBadRequest, "INVALID_ENTITY_TYPE", model.ErrInvalidEntityType.Error()+": "+string(entityType))
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, entityType, entityID); err != nil {
		// The upgrader already wrote the error response.
		log.Printf("WebSocket upgrade for %s/%s failed: %v", entityType, entityID, err)
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status/ws/:entityType/:entityId", h.Subscribe)
}
