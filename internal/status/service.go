// Package status applies status changes to tracked entities and keeps the
// dependency satisfaction of their dependents current.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/repository"
)

// Publisher receives committed changes for real-time delivery.
type Publisher interface {
	PublishStatusChange(tracking *model.StatusTracking, change model.StatusChange, dependents []*model.StatusTracking)
	PublishTracking(tracking *model.StatusTracking)
}

// Service coordinates status changes. Writes are serialized so a change and
// the dependents it updates are computed from one consistent read.
type Service struct {
	repo      *repository.StatusRepository
	publisher Publisher
	now       func() time.Time

	mu sync.Mutex
}

// NewService creates a status service. publisher may be nil.
func NewService(repo *repository.StatusRepository, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
	}
}

// BlockedError reports a refused change and why.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "status change blocked: " + e.Reason
}

// Is matches model.ErrStatusBlocked.
func (e *BlockedError) Is(target error) bool {
	return target == model.ErrStatusBlocked
}

func validateEntity(entityType model.EntityType, entityID string) error {
	if !entityType.Valid() {
		return fmt.Errorf("%w: %s", model.ErrInvalidEntityType, entityType)
	}
	if strings.TrimSpace(entityID) == "" {
		return fmt.Errorf("%w: entity id is required", model.ErrValidation)
	}
	return nil
}

// UpdateStatus appends a change to the entity's history, creating the
// tracking on its first change. Every tracking that depends on the entity
// has its dependency satisfaction recomputed in the same transaction; only
// those whose satisfaction flipped are published.
func (s *Service) UpdateStatus(ctx context.Context, entityType model.EntityType, entityID string, req model.StatusUpdateRequest) (*model.StatusTracking, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}
	newStatus := strings.TrimSpace(req.NewStatus)
	changedBy := strings.TrimSpace(req.ChangedBy)
	if newStatus == "" || changedBy == "" {
		return nil, fmt.Errorf("%w: new_status and changed_by are required", model.ErrValidation)
	}

	s.mu.Lock()
	tracking, dependents, err := s.repo.LoadForUpdate(ctx, entityType, entityID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if tracking == nil {
		tracking = model.NewStatusTracking(entityType, entityID)
	}
	if !tracking.CanChangeStatus() {
		s.mu.Unlock()
		return nil, &BlockedError{Reason: tracking.BlockingReason}
	}

	now := s.now().UTC()
	change := tracking.AddStatusChange(newStatus, changedBy, strings.TrimSpace(req.Reason), now)
	var flipped []*model.StatusTracking
	for _, dep := range dependents {
		if dep.UpdateDependency(entityType, entityID, newStatus, now) {
			flipped = append(flipped, dep)
		}
		dep.UpdatedAt = now
	}

	if err := s.repo.ApplyChange(ctx, tracking, change, dependents); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to apply status change: %w", err)
	}
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.PublishStatusChange(tracking, change, flipped)
	}
	return tracking, nil
}

// Get returns the entity's tracking.
func (s *Service) Get(ctx context.Context, entityType model.EntityType, entityID string) (*model.StatusTracking, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, entityType, entityID)
}

// History returns the entity's changes, oldest first. An untracked entity
// has an empty history.
func (s *Service) History(ctx context.Context, entityType model.EntityType, entityID string) ([]model.StatusChange, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}
	history, err := s.repo.History(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []model.StatusChange{}
	}
	return history, nil
}

// AddDependency makes the entity wait for another entity to reach a status.
// Satisfaction is computed from the other entity's current status. An
// untracked entity gets a tracking without history.
func (s *Service) AddDependency(ctx context.Context, entityType model.EntityType, entityID string, req model.DependencyRequest) (*model.StatusTracking, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}
	if err := validateEntity(req.EntityType, req.EntityID); err != nil {
		return nil, err
	}
	required := strings.TrimSpace(req.RequiredStatus)
	if required == "" {
		return nil, fmt.Errorf("%w: required_status is required", model.ErrValidation)
	}
	if req.EntityType == entityType && req.EntityID == entityID {
		return nil, fmt.Errorf("%w: an entity cannot depend on itself", model.ErrValidation)
	}

	s.mu.Lock()
	tracking, err := s.loadOrNew(ctx, entityType, entityID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	dep := model.StatusDependency{
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		RequiredStatus: required,
	}
	other, err := s.repo.Get(ctx, req.EntityType, req.EntityID)
	switch {
	case err == nil:
		if other.CurrentStatus == required {
			now := s.now().UTC()
			dep.IsSatisfied = true
			dep.SatisfiedAt = &now
		}
	case !errors.Is(err, model.ErrTrackingNotFound):
		s.mu.Unlock()
		return nil, err
	}

	tracking.AddDependency(dep)
	tracking.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, tracking); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to add dependency: %w", err)
	}
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.PublishTracking(tracking)
	}
	return tracking, nil
}

// RemoveDependency drops the entity's dependency on another entity.
func (s *Service) RemoveDependency(ctx context.Context, entityType model.EntityType, entityID string, depType model.EntityType, depID string) (*model.StatusTracking, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}
	if err := validateEntity(depType, depID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	tracking, err := s.repo.Get(ctx, entityType, entityID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !tracking.RemoveDependency(depType, depID) {
		s.mu.Unlock()
		return nil, model.ErrDependencyNotFound
	}
	tracking.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, tracking); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to remove dependency: %w", err)
	}
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.PublishTracking(tracking)
	}
	return tracking, nil
}

func (s *Service) loadOrNew(ctx context.Context, entityType model.EntityType, entityID string) (*model.StatusTracking, error) {
	tracking, err := s.repo.Get(ctx, entityType, entityID)
	if errors.Is(err, model.ErrTrackingNotFound) {
		return model.NewStatusTracking(entityType, entityID), nil
	}
	return tracking, err
}
