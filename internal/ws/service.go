package ws

import (
	"log"
	"time"

	"github.com/escra-platform/portal/internal/model"
)

// Service owns the status channel hubs and publishes status changes to them.
type Service struct {
	hubManager *HubManager
	handler    *Handler
}

// NewService creates a new WebSocket service.
func NewService(source StatusSource, allowedOrigins []string) *Service {
	hubManager := NewHubManager()
	return &Service{
		hubManager: hubManager,
		handler:    NewHandler(hubManager, source, allowedOrigins),
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// HubManager returns the hub manager.
func (s *Service) HubManager() *HubManager {
	return s.hubManager
}

// PublishStatusChange forwards a committed status change to its channel.
// dependents are the trackings whose dependency satisfaction flipped; each
// gets a change-free update.
func (s *Service) PublishStatusChange(tracking *model.StatusTracking, change model.StatusChange, dependents []*model.StatusTracking) {
	s.handler.BroadcastStatusChange(tracking, change)
	for _, dep := range dependents {
		s.PublishTracking(dep)
	}
}

// PublishTracking sends the tracking's current state to its channel.
func (s *Service) PublishTracking(tracking *model.StatusTracking) {
	hub := s.hubManager.Get(ChannelKey(tracking.EntityType, tracking.EntityID))
	if hub == nil {
		return
	}
	if err := hub.BroadcastMessage(&Message{
		Type:       MessageTypeStatusChange,
		EntityType: tracking.EntityType,
		EntityID:   tracking.EntityID,
		Status:     tracking,
		Timestamp:  time.Now(),
	}); err != nil {
		log.Printf("Failed to broadcast tracking update: %v", err)
	}
}

// SubscriberCount returns the number of clients on an entity's channel.
func (s *Service) SubscriberCount(entityType model.EntityType, entityID string) int {
	hub := s.hubManager.Get(ChannelKey(entityType, entityID))
	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

// Close closes all WebSocket connections.
func (s *Service) Close() {
	s.hubManager.Close()
}
