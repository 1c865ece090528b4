package archiver

import (
	"context"
	"testing"
	"time"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/shiftclock"
	"rotikita/backend/internal/store"
	"rotikita/backend/internal/store/memory"
)

func TestRotateMovesClosedWindowRecords(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	closed := time.Now().UTC().Add(-time.Hour)
	if _, err := repo.InsertProduction(ctx, domain.ProductionRecord{
		ItemID: "roti", Qty: 10, ShiftID: domain.ShiftMorning, CreatedAt: closed,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.InsertProduction(ctx, domain.ProductionRecord{
		ItemID: "roti", Qty: 5, ShiftID: domain.ShiftNight,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a := New(repo, shiftclock.Boundaries{MorningHour: 6, NightHour: 18}, time.UTC, 15*time.Minute, nil)
	a.rotate()

	filter := store.RecordFilter{From: closed.Add(-time.Minute), To: time.Now().UTC().Add(time.Minute)}
	archived, err := repo.QueryProduction(ctx, domain.SourceArchived, filter)
	if err != nil {
		t.Fatalf("query archived: %v", err)
	}
	if len(archived) != 1 || archived[0].Qty != 10 {
		t.Fatalf("expected the closed-window record in the archive, got %d", len(archived))
	}

	live, err := repo.QueryProduction(ctx, domain.SourceLive, filter)
	if err != nil {
		t.Fatalf("query live: %v", err)
	}
	if len(live) != 1 || live[0].Qty != 5 {
		t.Fatalf("expected the fresh record to stay live, got %d", len(live))
	}
}

func TestStartSchedulesBothBoundaries(t *testing.T) {
	a := New(memory.New(), shiftclock.Boundaries{MorningHour: 6, NightHour: 18}, time.UTC, 15*time.Minute, nil)
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.Stop()
}

func TestGraceClampedUnderAnHour(t *testing.T) {
	a := New(memory.New(), shiftclock.Boundaries{MorningHour: 10, NightHour: 22}, time.UTC, 90*time.Minute, nil)
	if a.grace != 55*time.Minute {
		t.Fatalf("expected 90m grace clamped to 55m, got %s", a.grace)
	}
	// The clamped grace must still produce a valid schedule and never fire
	// earlier than the configured boundary hours.
	if err := a.Start(); err != nil {
		t.Fatalf("start with clamped grace: %v", err)
	}
	a.Stop()
}
