package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/escra-platform/portal/internal/db"
	"github.com/escra-platform/portal/internal/model"
)

func setupStatusRepo(t *testing.T) *StatusRepository {
	t.Helper()
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStatusRepository(database)
}

func TestStatusRepository_GetMissing(t *testing.T) {
	repo := setupStatusRepo(t)

	_, err := repo.Get(context.Background(), model.EntityContract, "c1")
	if !errors.Is(err, model.ErrTrackingNotFound) {
		t.Fatalf("expected ErrTrackingNotFound, got %v", err)
	}
}

func TestStatusRepository_ApplyChangeRoundTrip(t *testing.T) {
	repo := setupStatusRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tr := model.NewStatusTracking(model.EntityContract, "c1")
	first := tr.AddStatusChange("Draft", "u1", "created", now)
	if err := repo.ApplyChange(ctx, tr, first, nil); err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	second := tr.AddStatusChange("Signed", "u2", "", now.Add(time.Minute))
	if err := repo.ApplyChange(ctx, tr, second, nil); err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}

	got, err := repo.Get(ctx, model.EntityContract, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentStatus != "Signed" {
		t.Errorf("expected Signed, got %s", got.CurrentStatus)
	}
	if len(got.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(got.History))
	}
	if got.History[0].OldStatus != model.InitialStatus || got.History[1].OldStatus != "Draft" {
		t.Errorf("unexpected history order: %+v", got.History)
	}
	if got.History[0].Reason != "created" || got.History[1].Reason != "" {
		t.Errorf("unexpected reasons: %+v", got.History)
	}
}

func TestStatusRepository_DependenciesAndDependents(t *testing.T) {
	repo := setupStatusRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := model.NewStatusTracking(model.EntityTask, "t1")
	task.UpdatedAt = now
	task.AddDependency(model.StatusDependency{
		EntityType:     model.EntityContract,
		EntityID:       "c1",
		RequiredStatus: "Signed",
	})
	if err := repo.Save(ctx, task); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Get(ctx, model.EntityTask, "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.IsBlocked || got.BlockingReason == "" {
		t.Errorf("expected blocked tracking, got %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0].RequiredStatus != "Signed" {
		t.Fatalf("unexpected dependencies: %+v", got.Dependencies)
	}

	keys, err := repo.DependentKeys(ctx, model.EntityContract, "c1")
	if err != nil {
		t.Fatalf("DependentKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != [2]string{"task", "t1"} {
		t.Errorf("unexpected dependents: %v", keys)
	}

	contract, dependents, err := repo.LoadForUpdate(ctx, model.EntityContract, "c1")
	if err != nil {
		t.Fatalf("LoadForUpdate failed: %v", err)
	}
	if contract != nil {
		t.Errorf("expected no contract tracking yet, got %+v", contract)
	}
	if len(dependents) != 1 || dependents[0].EntityID != "t1" {
		t.Fatalf("unexpected dependents: %+v", dependents)
	}

	got.RemoveDependency(model.EntityContract, "c1")
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	keys, err = repo.DependentKeys(ctx, model.EntityContract, "c1")
	if err != nil {
		t.Fatalf("DependentKeys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no dependents after removal, got %v", keys)
	}
}
