package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/escra-platform/portal/internal/model"
)

// StatusRepository persists status trackings, their history and dependencies.
type StatusRepository struct {
	db *sql.DB
}

// NewStatusRepository creates a new StatusRepository.
func NewStatusRepository(db *sql.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Get loads a tracking with its history and dependencies.
func (r *StatusRepository) Get(ctx context.Context, entityType model.EntityType, entityID string) (*model.StatusTracking, error) {
	return getTracking(ctx, r.db, entityType, entityID)
}

func getTracking(ctx context.Context, q queryer, entityType model.EntityType, entityID string) (*model.StatusTracking, error) {
	t := model.NewStatusTracking(entityType, entityID)
	var reason sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT current_status, is_blocked, blocking_reason, updated_at
		FROM status_tracking
		WHERE entity_type = ? AND entity_id = ?
	`, entityType, entityID).Scan(&t.CurrentStatus, &t.IsBlocked, &reason, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTrackingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status tracking: %w", err)
	}
	if reason.Valid {
		t.BlockingReason = reason.String
	}

	history, err := listHistory(ctx, q, entityType, entityID)
	if err != nil {
		return nil, err
	}
	t.History = history

	deps, err := listDependencies(ctx, q, entityType, entityID)
	if err != nil {
		return nil, err
	}
	t.Dependencies = deps

	return t, nil
}

// History returns the ordered status changes of an entity.
func (r *StatusRepository) History(ctx context.Context, entityType model.EntityType, entityID string) ([]model.StatusChange, error) {
	return listHistory(ctx, r.db, entityType, entityID)
}

func listHistory(ctx context.Context, q queryer, entityType model.EntityType, entityID string) ([]model.StatusChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT old_status, new_status, changed_by, reason, changed_at
		FROM status_changes
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	history := []model.StatusChange{}
	for rows.Next() {
		var c model.StatusChange
		var reason sql.NullString
		if err := rows.Scan(&c.OldStatus, &c.NewStatus, &c.ChangedBy, &reason, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		if reason.Valid {
			c.Reason = reason.String
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status history: %w", err)
	}
	return history, nil
}

func listDependencies(ctx context.Context, q queryer, entityType model.EntityType, entityID string) ([]model.StatusDependency, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dep_entity_type, dep_entity_id, required_status, is_satisfied, satisfied_at
		FROM status_dependencies
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY rowid ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	deps := []model.StatusDependency{}
	for rows.Next() {
		var d model.StatusDependency
		var depType string
		var satisfiedAt sql.NullTime
		if err := rows.Scan(&depType, &d.EntityID, &d.RequiredStatus, &d.IsSatisfied, &satisfiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		d.EntityType = model.EntityType(depType)
		if satisfiedAt.Valid {
			ts := satisfiedAt.Time
			d.SatisfiedAt = &ts
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// DependentKeys lists the entities that declare a dependency on the given entity.
func (r *StatusRepository) DependentKeys(ctx context.Context, depType model.EntityType, depID string) ([][2]string, error) {
	return dependentKeys(ctx, r.db, depType, depID)
}

func dependentKeys(ctx context.Context, q queryer, depType model.EntityType, depID string) ([][2]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT entity_type, entity_id
		FROM status_dependencies
		WHERE dep_entity_type = ? AND dep_entity_id = ?
	`, depType, depID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents: %w", err)
	}
	defer rows.Close()

	var keys [][2]string
	for rows.Next() {
		var k [2]string
		if err := rows.Scan(&k[0], &k[1]); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependents: %w", err)
	}
	return keys, nil
}

// Save writes the tracking row and replaces its dependency set.
func (r *StatusRepository) Save(ctx context.Context, t *model.StatusTracking) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return saveTracking(ctx, tx, t)
	})
}

// ApplyChange persists a status change of t together with the updated
// dependents, in a single transaction.
func (r *StatusRepository) ApplyChange(ctx context.Context, t *model.StatusTracking, change model.StatusChange, dependents []*model.StatusTracking) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := saveTracking(ctx, tx, t); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO status_changes (entity_type, entity_id, old_status, new_status, changed_by, reason, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, t.EntityType, t.EntityID, change.OldStatus, change.NewStatus, change.ChangedBy, nullString(change.Reason), change.ChangedAt)
		if err != nil {
			return fmt.Errorf("failed to insert status change: %w", err)
		}
		for _, dep := range dependents {
			if err := saveTracking(ctx, tx, dep); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadForUpdate reads a tracking and all trackings depending on it.
// A missing tracking is returned as nil without error.
func (r *StatusRepository) LoadForUpdate(ctx context.Context, entityType model.EntityType, entityID string) (*model.StatusTracking, []*model.StatusTracking, error) {
	t, err := getTracking(ctx, r.db, entityType, entityID)
	if err != nil && !errors.Is(err, model.ErrTrackingNotFound) {
		return nil, nil, err
	}

	keys, err := dependentKeys(ctx, r.db, entityType, entityID)
	if err != nil {
		return nil, nil, err
	}
	dependents := make([]*model.StatusTracking, 0, len(keys))
	for _, k := range keys {
		d, err := getTracking(ctx, r.db, model.EntityType(k[0]), k[1])
		if err != nil {
			return nil, nil, err
		}
		dependents = append(dependents, d)
	}
	return t, dependents, nil
}

func saveTracking(ctx context.Context, tx *sql.Tx, t *model.StatusTracking) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_tracking (entity_type, entity_id, current_status, is_blocked, blocking_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			current_status = excluded.current_status,
			is_blocked = excluded.is_blocked,
			blocking_reason = excluded.blocking_reason,
			updated_at = excluded.updated_at
	`, t.EntityType, t.EntityID, t.CurrentStatus, t.IsBlocked, nullString(t.BlockingReason), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save status tracking: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM status_dependencies WHERE entity_type = ? AND entity_id = ?`, t.EntityType, t.EntityID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	for _, d := range t.Dependencies {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO status_dependencies (entity_type, entity_id, dep_entity_type, dep_entity_id, required_status, is_satisfied, satisfied_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, t.EntityType, t.EntityID, d.EntityType, d.EntityID, d.RequiredStatus, d.IsSatisfied, d.SatisfiedAt)
		if err != nil {
			return fmt.Errorf("failed to save dependency: %w", err)
		}
	}
	return nil
}

func (r *StatusRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
