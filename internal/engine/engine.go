package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/shiftclock"
	"rotikita/backend/internal/store"
)

// Options carries the tunables of the reconciliation engine. Boundaries is
// the single configured shift-boundary pair; Location the operating timezone.
type Options struct {
	Boundaries   shiftclock.Boundaries
	Location     *time.Location
	Debounce     time.Duration
	PollInterval time.Duration
}

// Engine is the reconciliation core exposed to the presentation layer:
// current-window resolution, freshly computed inventory, change
// notifications, and the idempotent report write path. Shift state is never
// owned here; every operation resolves a fresh window from the injected
// clock.
type Engine struct {
	repo        store.Repository
	selector    *SourceSelector
	aggregator  *Aggregator
	checker     *ConflictChecker
	upserter    *UpsertEngine
	invalidator *Invalidator
	boundaries  shiftclock.Boundaries
	loc         *time.Location
	now         func() time.Time
	logger      *zap.Logger

	mu          sync.RWMutex
	latest      *domain.InventoryResult
	latestReqAt time.Time

	cbMu      sync.Mutex
	nextCBID  int
	callbacks map[int]func(domain.InventoryResult)
}

func New(repo store.Repository, opts Options, logger *zap.Logger) (*Engine, error) {
	if err := opts.Boundaries.Validate(); err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		repo:       repo,
		selector:   NewSourceSelector(repo),
		aggregator: NewAggregator(repo),
		boundaries: opts.Boundaries,
		loc:        opts.Location,
		now:        time.Now,
		logger:     logger,
		callbacks:  make(map[int]func(domain.InventoryResult)),
	}
	e.checker = NewConflictChecker(repo)
	e.upserter = NewUpsertEngine(repo, e.checker, logger.Named("submit"))
	e.invalidator = NewInvalidator(repo, opts.Debounce, opts.PollInterval, e.refresh, logger.Named("invalidator"))
	return e, nil
}

// Start runs the freshness triggers until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.invalidator.Run(ctx)
}

// Degraded reports whether inventory freshness currently depends on the
// fallback poll alone.
func (e *Engine) Degraded() bool {
	return e.invalidator.Degraded()
}

func (e *Engine) GetCurrentWindow() (domain.ShiftWindow, error) {
	return shiftclock.Resolve(e.now(), e.loc, e.boundaries)
}

// GetInventory computes a fresh snapshot for the given window (current window
// when nil). On a transient aggregation failure it prefers the last computed
// snapshot for the same window, flagged degraded, over returning nothing.
func (e *Engine) GetInventory(ctx context.Context, window *domain.ShiftWindow) (domain.InventoryResult, error) {
	var w domain.ShiftWindow
	if window != nil {
		w = *window
	} else {
		resolved, err := e.GetCurrentWindow()
		if err != nil {
			return domain.InventoryResult{}, err
		}
		w = resolved
	}

	result, err := e.compute(ctx, w)
	if err != nil {
		if stale := e.staleFor(w); stale != nil {
			e.logger.Warn("serving stale inventory snapshot after read failure", zap.Error(err))
			degradedCopy := *stale
			degradedCopy.Degraded = true
			return degradedCopy, nil
		}
		return domain.InventoryResult{}, err
	}
	return result, nil
}

func (e *Engine) compute(ctx context.Context, window domain.ShiftWindow) (domain.InventoryResult, error) {
	decision, err := e.selector.Select(ctx, window)
	if err != nil {
		return domain.InventoryResult{}, err
	}

	result := domain.InventoryResult{
		Window:    window,
		Source:    decision,
		Items:     []domain.InventorySnapshot{},
		Degraded:  e.Degraded(),
		FetchedAt: e.now().UTC(),
	}
	if decision.Empty {
		// No data in either set: an empty result, not an error.
		return result, nil
	}

	items, err := e.aggregator.Aggregate(ctx, window, decision.Source)
	if err != nil {
		return domain.InventoryResult{}, err
	}
	result.Items = items
	return result, nil
}

// refresh is the single recompute function both freshness triggers feed.
// Results apply in request order, and a result computed for a window that is
// no longer current when it completes is discarded: the next trigger will
// resolve a fresh window.
func (e *Engine) refresh(reason string) {
	requestedAt := e.now()

	window, err := e.GetCurrentWindow()
	if err != nil {
		e.logger.Error("refresh: clock resolution failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := e.compute(ctx, window)
	if err != nil {
		e.logger.Warn("refresh failed", zap.String("reason", reason), zap.Error(err))
		return
	}

	current, err := e.GetCurrentWindow()
	if err != nil || current.ShiftID != window.ShiftID || current.Date != window.Date {
		// Shift boundary crossed while computing; the window parameters are
		// stale.
		return
	}

	e.mu.Lock()
	if requestedAt.Before(e.latestReqAt) {
		e.mu.Unlock()
		return
	}
	e.latest = &result
	e.latestReqAt = requestedAt
	e.mu.Unlock()

	e.notify(result)
}

func (e *Engine) staleFor(window domain.ShiftWindow) *domain.InventoryResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return nil
	}
	if e.latest.Window.ShiftID != window.ShiftID || e.latest.Window.Date != window.Date {
		return nil
	}
	return e.latest
}

// OnInventoryChange registers a callback invoked with each freshly applied
// snapshot. The returned function cancels the registration.
func (e *Engine) OnInventoryChange(cb func(domain.InventoryResult)) func() {
	e.cbMu.Lock()
	id := e.nextCBID
	e.nextCBID++
	e.callbacks[id] = cb
	e.cbMu.Unlock()

	return func() {
		e.cbMu.Lock()
		delete(e.callbacks, id)
		e.cbMu.Unlock()
	}
}

func (e *Engine) notify(result domain.InventoryResult) {
	e.cbMu.Lock()
	cbs := make([]func(domain.InventoryResult), 0, len(e.callbacks))
	for _, cb := range e.callbacks {
		cbs = append(cbs, cb)
	}
	e.cbMu.Unlock()

	for _, cb := range cbs {
		cb(result)
	}
}

// SubmitShiftReport runs the idempotent report write path.
func (e *Engine) SubmitShiftReport(ctx context.Context, input domain.ShiftReportInput) (domain.SubmitResult, error) {
	return e.upserter.Submit(ctx, input)
}

// CheckConflict exposes the pre-write conflict classification, e.g. so the
// dashboard can warn before overwriting a divergent report.
func (e *Engine) CheckConflict(ctx context.Context, candidate domain.ShiftReportInput) (domain.ConflictRecord, error) {
	return e.checker.Check(ctx, candidate)
}

// BuildReportInput folds an inventory result into a report candidate for the
// given operator.
func BuildReportInput(ownerID string, feedback string, result domain.InventoryResult) domain.ShiftReportInput {
	revenue, itemsSold, remaining := Totals(result.Items)

	sales := make([]domain.ReportLine, 0, len(result.Items))
	remainingLines := make([]domain.ReportLine, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Sold > 0 {
			sales = append(sales, domain.ReportLine{
				ItemID: item.ItemID, ItemName: item.ItemName, Qty: item.Sold, UnitPrice: item.UnitPrice,
			})
		}
		if item.Available > 0 {
			remainingLines = append(remainingLines, domain.ReportLine{
				ItemID: item.ItemID, ItemName: item.ItemName, Qty: item.Available, UnitPrice: item.UnitPrice,
			})
		}
	}

	return domain.ShiftReportInput{
		OwnerID:           ownerID,
		ShiftID:           result.Window.ShiftID,
		ReportDate:        result.Window.Date,
		TotalRevenue:      revenue,
		TotalItemsSold:    itemsSold,
		TotalRemaining:    remaining,
		Feedback:          feedback,
		SalesSnapshot:     sales,
		RemainingSnapshot: remainingLines,
	}
}
