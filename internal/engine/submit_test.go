package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
	"rotikita/backend/internal/store/memory"
)

func newUpsertEngine(repo store.Repository) *UpsertEngine {
	return NewUpsertEngine(repo, NewConflictChecker(repo), nil)
}

func TestSubmitIdempotent(t *testing.T) {
	repo := memory.New()
	engine := newUpsertEngine(repo)
	ctx := context.Background()
	input := reportInput(300, 30, 70)

	first, err := engine.Submit(ctx, input)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.WasUpdated {
		t.Fatalf("first submission must create, not update")
	}

	second, err := engine.Submit(ctx, input)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.WasUpdated {
		t.Fatalf("resubmission must update in place")
	}
	if second.Report.ID != first.Report.ID {
		t.Fatalf("resubmission created a second row: %s vs %s", first.Report.ID, second.Report.ID)
	}
	if !second.Report.TotalRevenue.Equal(first.Report.TotalRevenue) {
		t.Fatalf("identical resubmission changed totals")
	}

	reports, err := repo.ListReports(ctx, "operator", 10)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected exactly one report row, got %d", len(reports))
	}
}

func TestSubmitDivergentLatestWins(t *testing.T) {
	repo := memory.New()
	engine := newUpsertEngine(repo)
	ctx := context.Background()

	if _, err := engine.Submit(ctx, reportInput(300, 30, 70)); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	corrected := reportInput(280, 28, 72)
	result, err := engine.Submit(ctx, corrected)
	if err != nil {
		t.Fatalf("corrected submit: %v", err)
	}
	if !result.WasUpdated {
		t.Fatalf("divergent resubmission must update")
	}
	if !result.Report.TotalRevenue.Equal(decimal.NewFromInt(280)) {
		t.Fatalf("latest submission must win, got revenue %s", result.Report.TotalRevenue)
	}
}

func TestSubmitRejectsIncompleteKey(t *testing.T) {
	engine := newUpsertEngine(memory.New())

	input := reportInput(300, 30, 70)
	input.ReportDate = ""
	if _, err := engine.Submit(context.Background(), input); err == nil {
		t.Fatalf("expected incomplete key to be rejected")
	}
}

// staleCheckRepo makes the pre-write existence check lie once, simulating two
// first submissions racing through check-then-act at the same time. The
// unique constraint (here, the memory store's key map) then breaks the race
// and the engine must convert the losing insert into an update.
type staleCheckRepo struct {
	*memory.Store
	staleChecks int32
}

func (r *staleCheckRepo) GetReport(ctx context.Context, key domain.ReportKey) (*domain.ShiftReport, error) {
	if atomic.AddInt32(&r.staleChecks, -1) >= 0 {
		return nil, store.ErrNotFound
	}
	return r.Store.GetReport(ctx, key)
}

func TestSubmitConvertsInsertRaceToUpdate(t *testing.T) {
	repo := &staleCheckRepo{Store: memory.New(), staleChecks: 2}
	engine := newUpsertEngine(repo)
	ctx := context.Background()

	// Winner inserts first; the stale check then tells the loser the key is
	// free even though it is not.
	if _, err := engine.Submit(ctx, reportInput(300, 30, 70)); err != nil {
		t.Fatalf("winner submit: %v", err)
	}

	result, err := engine.Submit(ctx, reportInput(310, 31, 69))
	if err != nil {
		t.Fatalf("loser submit must recover, got: %v", err)
	}
	if !result.WasUpdated {
		t.Fatalf("recovered insert race must report an update")
	}

	reports, err := repo.ListReports(ctx, "operator", 10)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected exactly one report row after race, got %d", len(reports))
	}
}

func TestSubmitConcurrentFirstSubmissions(t *testing.T) {
	repo := memory.New()
	engine := newUpsertEngine(repo)
	input := reportInput(300, 30, 70)

	const writers = 8
	var wg sync.WaitGroup
	var creates int32
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Submit(context.Background(), input)
			if err != nil {
				errs <- err
				return
			}
			if !result.WasUpdated {
				atomic.AddInt32(&creates, 1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent submit failed: %v", err)
	}
	if creates != 1 {
		t.Fatalf("exactly one concurrent submission may create, got %d", creates)
	}

	reports, err := repo.ListReports(context.Background(), "operator", 10)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected exactly one report row, got %d", len(reports))
	}
}
