package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rotikita/backend/internal/cache"
	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/engine"
	"rotikita/backend/internal/shiftclock"
	"rotikita/backend/internal/store"
	"rotikita/backend/internal/store/memory"
)

// countingCache records cache traffic so tests can assert hit/miss behaviour.
type countingCache struct {
	mu          sync.Mutex
	entries     map[string]*domain.InventoryResult
	gets        int
	sets        int
	invalidates int
}

func newCountingCache() *countingCache {
	return &countingCache{entries: make(map[string]*domain.InventoryResult)}
}

func (c *countingCache) Get(_ context.Context, key string) (*domain.InventoryResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	cached, ok := c.entries[key]
	return cached, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *domain.InventoryResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidates++
	delete(c.entries, key)
	return nil
}

func newTestService(t *testing.T, repo store.Repository, snapshots cache.SnapshotCache) *Service {
	t.Helper()

	eng, err := engine.New(repo, engine.Options{
		Boundaries: shiftclock.Boundaries{MorningHour: 6, NightHour: 18},
		Location:   time.UTC,
	}, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return New(repo, eng, snapshots, 10*time.Second, nil)
}

func operatorContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "operator", Role: "operator"})
}

func TestRecordProductionStampsShiftAndOwner(t *testing.T) {
	repo := memory.New()
	svc := newTestService(t, repo, nil)

	record, err := svc.RecordProduction(operatorContext(), domain.ProductionEntryRequest{
		ItemID:   " Roti-Coklat ",
		ItemName: "Roti Coklat",
		Qty:      40,
	})
	if err != nil {
		t.Fatalf("record production: %v", err)
	}

	if record.ItemID != "roti-coklat" {
		t.Fatalf("expected normalized item id, got %q", record.ItemID)
	}
	if record.OwnerID != "operator" {
		t.Fatalf("expected owner from actor, got %q", record.OwnerID)
	}

	window, err := svc.CurrentWindow()
	if err != nil {
		t.Fatalf("current window: %v", err)
	}
	if record.ShiftID != window.ShiftID {
		t.Fatalf("expected shift %s, got %s", window.ShiftID, record.ShiftID)
	}
	if record.ID == "" {
		t.Fatalf("expected generated record id")
	}
}

func TestRecordProductionRejectsMissingActor(t *testing.T) {
	svc := newTestService(t, memory.New(), nil)

	_, err := svc.RecordProduction(context.Background(), domain.ProductionEntryRequest{
		ItemID: "roti", Qty: 5,
	})
	if err == nil {
		t.Fatalf("expected error without actor context")
	}
}

func TestRecordProductionRejectsInvalidEntry(t *testing.T) {
	svc := newTestService(t, memory.New(), nil)

	_, err := svc.RecordProduction(operatorContext(), domain.ProductionEntryRequest{
		ItemID: "roti", Qty: 0,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRecordSaleRejectsNegativePricing(t *testing.T) {
	svc := newTestService(t, memory.New(), nil)

	_, err := svc.RecordSale(operatorContext(), domain.SaleEntryRequest{
		ItemID:    "roti",
		Qty:       2,
		UnitPrice: decimal.NewFromInt(-5),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRecordSaleRejectsDiscountAboveUnitPrice(t *testing.T) {
	svc := newTestService(t, memory.New(), nil)

	_, err := svc.RecordSale(operatorContext(), domain.SaleEntryRequest{
		ItemID:    "roti",
		Qty:       2,
		UnitPrice: decimal.NewFromInt(10),
		Discount:  decimal.NewFromInt(12),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	// A discount equal to the unit price is a legitimate full markdown.
	if _, err := svc.RecordSale(operatorContext(), domain.SaleEntryRequest{
		ItemID:    "roti",
		Qty:       2,
		UnitPrice: decimal.NewFromInt(10),
		Discount:  decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("full markdown rejected: %v", err)
	}
}

func TestGetInventoryPopulatesCache(t *testing.T) {
	repo := memory.New()
	snapshots := newCountingCache()
	svc := newTestService(t, repo, snapshots)
	ctx := operatorContext()

	if _, err := svc.RecordProduction(ctx, domain.ProductionEntryRequest{ItemID: "roti", Qty: 20}); err != nil {
		t.Fatalf("record production: %v", err)
	}

	first, err := svc.GetInventory(ctx)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if len(first.Items) != 1 || first.Items[0].Produced != 20 {
		t.Fatalf("unexpected first result: %+v", first.Items)
	}
	if snapshots.sets != 1 {
		t.Fatalf("expected one cache write, got %d", snapshots.sets)
	}

	// Second read is served from the cache.
	second, err := svc.GetInventory(ctx)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !second.FetchedAt.Equal(first.FetchedAt) {
		t.Fatalf("expected cached result, got a fresh computation")
	}
	if snapshots.sets != 1 {
		t.Fatalf("expected no additional cache write, got %d", snapshots.sets)
	}
}

func TestSubmitShiftReportUsesActorAsOwner(t *testing.T) {
	repo := memory.New()
	svc := newTestService(t, repo, nil)
	ctx := operatorContext()

	result, err := svc.SubmitShiftReport(ctx, domain.ShiftReportInput{
		OwnerID:        "spoofed-owner",
		ShiftID:        domain.ShiftMorning,
		ReportDate:     "2025-03-05",
		TotalRevenue:   decimal.NewFromInt(120),
		TotalItemsSold: 12,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Report.OwnerID != "operator" {
		t.Fatalf("expected owner from actor, got %q", result.Report.OwnerID)
	}
}

func TestCheckConflictMatchesSubmittedReport(t *testing.T) {
	repo := memory.New()
	svc := newTestService(t, repo, nil)
	ctx := operatorContext()

	input := domain.ShiftReportInput{
		ShiftID:        domain.ShiftMorning,
		ReportDate:     "2025-03-05",
		TotalRevenue:   decimal.NewFromInt(90),
		TotalItemsSold: 9,
	}
	if _, err := svc.SubmitShiftReport(ctx, input); err != nil {
		t.Fatalf("submit: %v", err)
	}

	conflict, err := svc.CheckConflict(ctx, input)
	if err != nil {
		t.Fatalf("check conflict: %v", err)
	}
	if !conflict.Exists || conflict.Kind != domain.ConflictIdentical {
		t.Fatalf("expected identical conflict, got %+v", conflict)
	}
}

func TestListReportsScopesByRole(t *testing.T) {
	repo := memory.New()
	svc := newTestService(t, repo, nil)

	operators := []string{"alpha", "beta"}
	for _, owner := range operators {
		ctx := WithActor(context.Background(), domain.Actor{Username: owner, Role: "operator"})
		_, err := svc.SubmitShiftReport(ctx, domain.ShiftReportInput{
			ShiftID:    domain.ShiftMorning,
			ReportDate: "2025-03-05",
		})
		if err != nil {
			t.Fatalf("submit for %s: %v", owner, err)
		}
	}

	alphaCtx := WithActor(context.Background(), domain.Actor{Username: "alpha", Role: "operator"})
	mine, err := svc.ListReports(alphaCtx, 10)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(mine) != 1 || mine[0].OwnerID != "alpha" {
		t.Fatalf("expected only alpha's report, got %+v", mine)
	}

	adminCtx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	all, err := svc.ListReports(adminCtx, 10)
	if err != nil {
		t.Fatalf("list reports as admin: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both reports for admin, got %d", len(all))
	}
}

func TestBuildReportDraftFromInventory(t *testing.T) {
	repo := memory.New()
	svc := newTestService(t, repo, nil)
	ctx := operatorContext()

	if _, err := svc.RecordProduction(ctx, domain.ProductionEntryRequest{ItemID: "roti", Qty: 10}); err != nil {
		t.Fatalf("record production: %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleEntryRequest{
		ItemID: "roti", Qty: 4, UnitPrice: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	draft, err := svc.BuildReportDraft(ctx, "smooth shift")
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.OwnerID != "operator" {
		t.Fatalf("expected draft owner operator, got %q", draft.OwnerID)
	}
	if draft.TotalItemsSold != 4 || draft.TotalRemaining != 6 {
		t.Fatalf("unexpected totals: sold=%d remaining=%d", draft.TotalItemsSold, draft.TotalRemaining)
	}
	if !draft.TotalRevenue.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected revenue 40, got %s", draft.TotalRevenue)
	}
	if draft.Feedback != "smooth shift" {
		t.Fatalf("feedback not carried: %q", draft.Feedback)
	}
}
