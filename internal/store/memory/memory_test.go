package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
)

func TestInsertReportEnforcesUniqueKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	input := domain.ShiftReportInput{
		OwnerID:    "operator",
		ShiftID:    domain.ShiftMorning,
		ReportDate: "2025-03-05",
	}
	first, err := s.InsertReport(ctx, input)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	if _, err := s.InsertReport(ctx, input); !errors.Is(err, store.ErrDuplicateReport) {
		t.Fatalf("expected ErrDuplicateReport, got %v", err)
	}

	// Same shift and date for a different owner is a distinct key.
	other := input
	other.OwnerID = "other-operator"
	second, err := s.InsertReport(ctx, other)
	if err != nil {
		t.Fatalf("insert for other owner: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct report ids")
	}
}

func TestUpdateReportPreservesIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.InsertReport(ctx, domain.ShiftReportInput{
		OwnerID: "operator", ShiftID: domain.ShiftMorning, ReportDate: "2025-03-05",
		TotalItemsSold: 5,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := s.UpdateReport(ctx, created.ID, domain.ShiftReportInput{
		OwnerID: "operator", ShiftID: domain.ShiftMorning, ReportDate: "2025-03-05",
		TotalItemsSold: 9,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("update must not change the report id")
	}
	if updated.TotalItemsSold != 9 {
		t.Fatalf("expected updated totals, got %d", updated.TotalItemsSold)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update must not change created_at")
	}

	if _, err := s.UpdateReport(ctx, "missing-id", domain.ShiftReportInput{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestRotateLiveMovesOldRecords(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC()

	for _, createdAt := range []time.Time{old, recent} {
		if _, err := s.InsertProduction(ctx, domain.ProductionRecord{
			ItemID: "roti", Qty: 10, ShiftID: domain.ShiftMorning, CreatedAt: createdAt,
		}); err != nil {
			t.Fatalf("insert production: %v", err)
		}
	}
	if _, err := s.InsertSale(ctx, domain.SaleRecord{
		ItemID: "roti", Qty: 3, ShiftID: domain.ShiftMorning, CreatedAt: old,
	}); err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	moved, err := s.RotateLive(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 moved records, got %d", moved)
	}

	wide := store.RecordFilter{From: old.Add(-time.Minute), To: recent.Add(time.Minute)}
	live, err := s.QueryProduction(ctx, domain.SourceLive, wide)
	if err != nil {
		t.Fatalf("query live: %v", err)
	}
	if len(live) != 1 || !live[0].CreatedAt.Equal(recent) {
		t.Fatalf("expected only the recent record to stay live, got %d", len(live))
	}

	archived, err := s.QueryProduction(ctx, domain.SourceArchived, wide)
	if err != nil {
		t.Fatalf("query archived: %v", err)
	}
	if len(archived) != 1 || !archived[0].CreatedAt.Equal(old) {
		t.Fatalf("expected the old record in the archive, got %d", len(archived))
	}
}

func TestSubscribeChangesFiltersBySet(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.SubscribeChanges(ctx, []domain.RecordSet{domain.SetSales})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := s.InsertProduction(ctx, domain.ProductionRecord{
		ItemID: "roti", Qty: 5, ShiftID: domain.ShiftMorning,
	}); err != nil {
		t.Fatalf("insert production: %v", err)
	}
	if _, err := s.InsertSale(ctx, domain.SaleRecord{
		ItemID: "roti", Qty: 1, ShiftID: domain.ShiftMorning,
	}); err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	select {
	case event := <-events:
		if event.Set != domain.SetSales {
			t.Fatalf("expected only sales events, got %s", event.Set)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a sale change event")
	}

	select {
	case event, ok := <-events:
		if ok {
			t.Fatalf("unexpected extra event: %+v", event)
		}
	default:
	}
}

func TestSubscribeChangesClosesOnCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	events, err := s.SubscribeChanges(ctx, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected channel to close after cancel")
		}
	}
}

func TestQueryFiltersByShiftAndWindow(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)
	for _, rec := range []domain.ProductionRecord{
		{ItemID: "a", Qty: 1, ShiftID: domain.ShiftMorning, CreatedAt: base},
		{ItemID: "b", Qty: 1, ShiftID: domain.ShiftNight, CreatedAt: base},
		{ItemID: "c", Qty: 1, ShiftID: domain.ShiftMorning, CreatedAt: base.Add(12 * time.Hour)},
	} {
		if _, err := s.InsertProduction(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.QueryProduction(ctx, domain.SourceLive, store.RecordFilter{
		ShiftID: domain.ShiftMorning,
		From:    base.Add(-time.Hour),
		To:      base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ItemID != "a" {
		t.Fatalf("expected only record a, got %+v", got)
	}
}
