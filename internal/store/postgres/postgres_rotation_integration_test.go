package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
)

// Exercises the full rotation path against a real database, including the
// change-notification trigger firing on the CTE delete from the live tables.
func TestRotateLiveMovesRowsThroughDeleteTrigger(t *testing.T) {
	databaseURL := os.Getenv("ROTIKITA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set ROTIKITA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("item-rotate-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM production_records_live WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM production_records_archive WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_records_live WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_records_archive WHERE item_id = $1`, itemID)
	})

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC()

	for _, createdAt := range []time.Time{old, recent} {
		if _, err := s.InsertProduction(ctx, domain.ProductionRecord{
			ItemID: itemID, Qty: 10, ShiftID: domain.ShiftMorning, OwnerID: "operator", CreatedAt: createdAt,
		}); err != nil {
			t.Fatalf("insert production: %v", err)
		}
	}
	if _, err := s.InsertSale(ctx, domain.SaleRecord{
		ItemID: itemID, Qty: 3, ShiftID: domain.ShiftMorning, OwnerID: "operator", CreatedAt: old,
	}); err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	moved, err := s.RotateLive(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if moved < 2 {
		t.Fatalf("expected at least 2 moved rows, got %d", moved)
	}

	wide := store.RecordFilter{From: old.Add(-time.Minute), To: recent.Add(time.Minute)}

	live, err := s.QueryProduction(ctx, domain.SourceLive, wide)
	if err != nil {
		t.Fatalf("query live: %v", err)
	}
	liveMine := 0
	for _, rec := range live {
		if rec.ItemID == itemID {
			liveMine++
		}
	}
	if liveMine != 1 {
		t.Fatalf("expected only the recent record to stay live, got %d", liveMine)
	}

	archived, err := s.QueryProduction(ctx, domain.SourceArchived, wide)
	if err != nil {
		t.Fatalf("query archived: %v", err)
	}
	archivedMine := 0
	for _, rec := range archived {
		if rec.ItemID == itemID {
			archivedMine++
		}
	}
	if archivedMine != 1 {
		t.Fatalf("expected the old record in the archive, got %d", archivedMine)
	}
}
