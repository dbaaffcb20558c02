package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/testutil"
)

func TestSnapshotRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository(db.DB)
	ctx := context.Background()

	t.Run("Latest write wins", func(t *testing.T) {
		if err := repo.Upsert(ctx, nil, testutil.FixtureSnapshot()); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		if err := repo.Upsert(ctx, nil, testutil.FixtureSnapshot(func(s *models.OrderSnapshot) {
			s.FinalOrderQty = 6
		})); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		db.AssertRowCount(t, "order_snapshots", 1)

		s, err := repo.Get(ctx, nil, testutil.FixtureStoreID, "2025-03-14", "8801043015004")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if s.FinalOrderQty != 6 {
			t.Errorf("expected final qty 6, got %d", s.FinalOrderQty)
		}
		if s.Confidence == nil || *s.Confidence != 0.8 {
			t.Errorf("expected confidence 0.8, got %v", s.Confidence)
		}
	})

	t.Run("Executed rows are immutable", func(t *testing.T) {
		at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
		if err := repo.MarkExecuted(ctx, nil, testutil.FixtureStoreID, "2025-03-14", "8801043015004", true, at); err != nil {
			t.Fatalf("failed to mark executed: %v", err)
		}

		err := repo.Upsert(ctx, nil, testutil.FixtureSnapshot(func(s *models.OrderSnapshot) {
			s.FinalOrderQty = 1
		}))
		if !errors.Is(err, ErrSnapshotFinalized) {
			t.Fatalf("expected ErrSnapshotFinalized, got %v", err)
		}

		s, err := repo.Get(ctx, nil, testutil.FixtureStoreID, "2025-03-14", "8801043015004")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if s.FinalOrderQty != 6 || !s.IsExecuted() {
			t.Errorf("executed snapshot changed: %+v", s)
		}
		if s.OrderSuccess == nil || !*s.OrderSuccess {
			t.Error("expected order_success to be recorded")
		}

		err = repo.MarkExecuted(ctx, nil, testutil.FixtureStoreID, "2025-03-14", "8801043015004", true, at)
		if !errors.Is(err, ErrSnapshotFinalized) {
			t.Errorf("expected second execution to fail with ErrSnapshotFinalized, got %v", err)
		}
	})

	t.Run("Mark missing row", func(t *testing.T) {
		err := repo.MarkExecuted(ctx, nil, testutil.FixtureStoreID, "2025-03-14", "missing", true, time.Now())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Backfill rows without metadata", func(t *testing.T) {
		s := testutil.FixtureSnapshot(func(s *models.OrderSnapshot) {
			s.OrderDate = "2025-03-10"
			s.Confidence = nil
			s.OrderUnitQty = nil
			s.Source = models.SnapshotSourceBackfill
		})
		if err := repo.Upsert(ctx, nil, s); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		rows, err := repo.GetByDate(ctx, nil, testutil.FixtureStoreID, "2025-03-10")
		if err != nil {
			t.Fatalf("failed to get by date: %v", err)
		}
		if len(rows) != 1 || rows[0].Confidence != nil || rows[0].OrderUnitQty != nil {
			t.Errorf("expected one backfill row without metadata, got %+v", rows)
		}

		n, err := repo.CountBySource(ctx, nil, testutil.FixtureStoreID, "2025-03-10", models.SnapshotSourceLive)
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if n != 0 {
			t.Errorf("expected no live rows, got %d", n)
		}

		deleted, err := repo.DeleteUnexecuted(ctx, nil, testutil.FixtureStoreID, "2025-03-10", models.SnapshotSourceBackfill)
		if err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected 1 deleted row, got %d", deleted)
		}
	})
}
