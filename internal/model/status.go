package model

import (
	"fmt"
	"time"
)

// EntityType names a kind of tracked portal entity.
type EntityType string

const (
	EntityContract  EntityType = "contract"
	EntityTask      EntityType = "task"
	EntitySignature EntityType = "signature"
	EntityDocument  EntityType = "document"
)

// Valid reports whether t is a trackable entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityContract, EntityTask, EntitySignature, EntityDocument:
		return true
	}
	return false
}

// InitialStatus is the old status recorded for the first change of an entity.
const InitialStatus = "Initial"

// StatusChange is one entry of a tracking's history.
type StatusChange struct {
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason,omitempty"`
}

// StatusDependency requires another entity to reach a status before this one may change.
type StatusDependency struct {
	EntityType     EntityType `json:"entity_type"`
	EntityID       string     `json:"entity_id"`
	RequiredStatus string     `json:"required_status"`
	IsSatisfied    bool       `json:"is_satisfied"`
	SatisfiedAt    *time.Time `json:"satisfied_at,omitempty"`
}

// StatusTracking holds the current status, history and dependencies of one entity.
type StatusTracking struct {
	EntityType     EntityType         `json:"entity_type"`
	EntityID       string             `json:"entity_id"`
	CurrentStatus  string             `json:"current_status"`
	History        []StatusChange     `json:"status_history"`
	Dependencies   []StatusDependency `json:"dependencies"`
	IsBlocked      bool               `json:"is_blocked"`
	BlockingReason string             `json:"blocking_reason,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// NewStatusTracking returns an empty tracking for an entity.
func NewStatusTracking(entityType EntityType, entityID string) *StatusTracking {
	return &StatusTracking{
		EntityType: entityType,
		EntityID:   entityID,
	}
}

// AddStatusChange appends a history entry and moves the current status.
func (t *StatusTracking) AddStatusChange(newStatus, changedBy, reason string, at time.Time) StatusChange {
	old := InitialStatus
	if len(t.History) > 0 {
		old = t.CurrentStatus
	}
	change := StatusChange{
		OldStatus: old,
		NewStatus: newStatus,
		ChangedBy: changedBy,
		ChangedAt: at,
		Reason:    reason,
	}
	t.History = append(t.History, change)
	t.CurrentStatus = newStatus
	t.UpdatedAt = at
	return change
}

// CheckDependencies recomputes the blocked flag. The first unsatisfied
// dependency provides the blocking reason.
func (t *StatusTracking) CheckDependencies() bool {
	for _, dep := range t.Dependencies {
		if !dep.IsSatisfied {
			t.IsBlocked = true
			t.BlockingReason = fmt.Sprintf("Waiting for %s %s to reach status %s", dep.EntityType, dep.EntityID, dep.RequiredStatus)
			return false
		}
	}
	t.IsBlocked = false
	t.BlockingReason = ""
	return true
}

// UpdateDependency records a status change of a dependency and returns true
// when the satisfaction of t's dependency on that entity flipped.
func (t *StatusTracking) UpdateDependency(entityType EntityType, entityID, newStatus string, at time.Time) bool {
	changed := false
	for i := range t.Dependencies {
		dep := &t.Dependencies[i]
		if dep.EntityType != entityType || dep.EntityID != entityID {
			continue
		}
		satisfied := newStatus == dep.RequiredStatus
		changed = satisfied != dep.IsSatisfied
		dep.IsSatisfied = satisfied
		if dep.IsSatisfied {
			ts := at
			dep.SatisfiedAt = &ts
		} else {
			dep.SatisfiedAt = nil
		}
		break
	}
	t.CheckDependencies()
	return changed
}

// AddDependency adds or replaces the dependency on dep's entity.
func (t *StatusTracking) AddDependency(dep StatusDependency) {
	for i := range t.Dependencies {
		if t.Dependencies[i].EntityType == dep.EntityType && t.Dependencies[i].EntityID == dep.EntityID {
			t.Dependencies[i] = dep
			t.CheckDependencies()
			return
		}
	}
	t.Dependencies = append(t.Dependencies, dep)
	t.CheckDependencies()
}

// RemoveDependency drops the dependency on an entity and reports whether one existed.
func (t *StatusTracking) RemoveDependency(entityType EntityType, entityID string) bool {
	for i := range t.Dependencies {
		if t.Dependencies[i].EntityType == entityType && t.Dependencies[i].EntityID == entityID {
			t.Dependencies = append(t.Dependencies[:i], t.Dependencies[i+1:]...)
			t.CheckDependencies()
			return true
		}
	}
	return false
}

// CanChangeStatus reports whether a new status may be applied.
func (t *StatusTracking) CanChangeStatus() bool {
	return !t.IsBlocked
}

// StatusUpdateRequest is the payload for changing an entity's status.
type StatusUpdateRequest struct {
	NewStatus string `json:"new_status" binding:"required"`
	ChangedBy string `json:"changed_by" binding:"required"`
	Reason    string `json:"reason"`
}

// DependencyRequest is the payload for adding a dependency.
type DependencyRequest struct {
	EntityType     EntityType `json:"entity_type" binding:"required"`
	EntityID       string     `json:"entity_id" binding:"required"`
	RequiredStatus string     `json:"required_status" binding:"required"`
}
