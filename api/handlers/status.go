package handlers

import (
	"errors"
	"net/http"

	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/status"
	"github.com/gin-gonic/gin"
)

// StatusHandler handles HTTP requests for status tracking.
type StatusHandler struct {
	svc *status.Service
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(svc *status.Service) *StatusHandler {
	return &StatusHandler{svc: svc}
}

func entityParams(c *gin.Context) (model.EntityType, string) {
	return model.EntityType(c.Param("entityType")), c.Param("entityId")
}

// sendStatusError maps status service errors to responses.
func sendStatusError(c *gin.Context, err error, action string) {
	var blocked *status.BlockedError
	switch {
	case errors.As(err, &blocked):
		sendError(c, http.StatusBadRequest, "STATUS_BLOCKED", blocked.Reason)
	case errors.Is(err, model.ErrInvalidEntityType):
		sendError(c, http.StatusBadRequest, "INVALID_ENTITY_TYPE", err.Error())
	case errors.Is(err, model.ErrValidation):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrTrackingNotFound):
		sendError(c, http.StatusNotFound, "TRACKING_NOT_FOUND", "No status tracking for "+c.Param("entityType")+" "+c.Param("entityId"))
	case errors.Is(err, model.ErrDependencyNotFound):
		sendError(c, http.StatusNotFound, "DEPENDENCY_NOT_FOUND", "Dependency not found")
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action+": "+err.Error())
	}
}

// Update handles PUT /api/status/:entityType/:entityId.
func (h *StatusHandler) Update(c *gin.Context) {
	var req model.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	entityType, entityID := entityParams(c)
	tracking, err := h.svc.UpdateStatus(c.Request.Context(), entityType, entityID, req)
	if err != nil {
		sendStatusError(c, err, "update status")
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// Get handles GET /api/status/:entityType/:entityId.
func (h *StatusHandler) Get(c *gin.Context) {
	entityType, entityID := entityParams(c)
	tracking, err := h.svc.Get(c.Request.Context(), entityType, entityID)
	if err != nil {
		sendStatusError(c, err, "get status")
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// History handles GET /api/status/:entityType/:entityId/history.
func (h *StatusHandler) History(c *gin.Context) {
	entityType, entityID := entityParams(c)
	history, err := h.svc.History(c.Request.Context(), entityType, entityID)
	if err != nil {
		sendStatusError(c, err, "get status history")
		return
	}
	c.JSON(http.StatusOK, history)
}

// AddDependency handles POST /api/status/:entityType/:entityId/dependencies.
func (h *StatusHandler) AddDependency(c *gin.Context) {
	var req model.DependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	entityType, entityID := entityParams(c)
	tracking, err := h.svc.AddDependency(c.Request.Context(), entityType, entityID, req)
	if err != nil {
		sendStatusError(c, err, "add dependency")
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// RemoveDependency handles DELETE /api/status/:entityType/:entityId/dependencies/:depType/:depId.
func (h *StatusHandler) RemoveDependency(c *gin.Context) {
	entityType, entityID := entityParams(c)
	depType := model.EntityType(c.Param("depType"))
	tracking, err := h.svc.RemoveDependency(c.Request.Context(), entityType, entityID, depType, c.Param("depId"))
	if err != nil {
		sendStatusError(c, err, "remove dependency")
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// RegisterRoutes registers the status routes on a Gin router group. The
// group is expected to carry RequireToken.
func (h *StatusHandler) RegisterRoutes(rg *gin.RouterGroup) {
	st := rg.Group("/status")
	{
		st.GET("/:entityType/:entityId", h.Get)
		st.PUT("/:entityType/:entityId", h.Update)
		st.GET("/:entityType/:entityId/history", h.History)
		st.POST("/:entityType/:entityId/dependencies", h.AddDependency)
		st.DELETE("/:entityType/:entityId/dependencies/:depType/:depId", h.RemoveDependency)
	}
}
