package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"rotikita/backend/internal/cache"
	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/engine"
	"rotikita/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var validate = validator.New()

// Service is the application layer between the HTTP surface and the
// reconciliation engine: entry forms append to the record streams, reads go
// through a short-TTL snapshot cache, and submissions are stamped with the
// acting operator.
type Service struct {
	repo        store.Repository
	engine      *engine.Engine
	snapshots   cache.SnapshotCache
	snapshotTTL time.Duration
	logger      *zap.Logger
}

func New(repo store.Repository, eng *engine.Engine, snapshots cache.SnapshotCache, snapshotTTL time.Duration, logger *zap.Logger) *Service {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:        repo,
		engine:      eng,
		snapshots:   snapshots,
		snapshotTTL: snapshotTTL,
		logger:      logger,
	}

	// Fresh engine snapshots supersede whatever the cache holds.
	eng.OnInventoryChange(func(result domain.InventoryResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.snapshots.Invalidate(ctx, cache.WindowKey(result.Window)); err != nil {
			s.logger.Warn("snapshot cache invalidation failed", zap.Error(err))
		}
	})

	return s
}

func (s *Service) CurrentWindow() (domain.ShiftWindow, error) {
	return s.engine.GetCurrentWindow()
}

func (s *Service) Degraded() bool {
	return s.engine.Degraded()
}

func (s *Service) OnInventoryChange(cb func(domain.InventoryResult)) func() {
	return s.engine.OnInventoryChange(cb)
}

// RecordProduction appends one production record for the active window.
func (s *Service) RecordProduction(ctx context.Context, req domain.ProductionEntryRequest) (domain.ProductionRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ProductionRecord{}, fmt.Errorf("record production: no acting operator")
	}
	if err := validate.Struct(req); err != nil {
		return domain.ProductionRecord{}, fmt.Errorf("record production: %w: %v", store.ErrInvalidInput, err)
	}

	window, err := s.engine.GetCurrentWindow()
	if err != nil {
		return domain.ProductionRecord{}, err
	}

	created, err := s.repo.InsertProduction(ctx, domain.ProductionRecord{
		ItemID:   normalizeItemID(req.ItemID),
		ItemName: strings.TrimSpace(req.ItemName),
		Qty:      req.Qty,
		ShiftID:  window.ShiftID,
		OwnerID:  actor.Username,
	})
	if err != nil {
		return domain.ProductionRecord{}, err
	}
	return *created, nil
}

// RecordSale appends one sale record for the active window. Absent pricing is
// stored as zero and never an error.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleEntryRequest) (domain.SaleRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleRecord{}, fmt.Errorf("record sale: no acting operator")
	}
	if err := validate.Struct(req); err != nil {
		return domain.SaleRecord{}, fmt.Errorf("record sale: %w: %v", store.ErrInvalidInput, err)
	}
	if req.UnitPrice.IsNegative() || req.Discount.IsNegative() {
		return domain.SaleRecord{}, fmt.Errorf("record sale: negative pricing: %w", store.ErrInvalidInput)
	}
	if req.Discount.GreaterThan(req.UnitPrice) {
		return domain.SaleRecord{}, fmt.Errorf("record sale: discount exceeds unit price: %w", store.ErrInvalidInput)
	}

	window, err := s.engine.GetCurrentWindow()
	if err != nil {
		return domain.SaleRecord{}, err
	}

	created, err := s.repo.InsertSale(ctx, domain.SaleRecord{
		ItemID:    normalizeItemID(req.ItemID),
		ItemName:  strings.TrimSpace(req.ItemName),
		Qty:       req.Qty,
		UnitPrice: req.UnitPrice,
		Discount:  req.Discount,
		ShiftID:   window.ShiftID,
		OwnerID:   actor.Username,
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return *created, nil
}

// GetInventory serves the reconciled snapshot for the current window,
// consulting the short-TTL cache first. Degraded results bypass the cache so
// recovery is visible immediately.
func (s *Service) GetInventory(ctx context.Context) (domain.InventoryResult, error) {
	window, err := s.engine.GetCurrentWindow()
	if err != nil {
		return domain.InventoryResult{}, err
	}

	key := cache.WindowKey(window)
	if cached, found, err := s.snapshots.Get(ctx, key); err == nil && found {
		return *cached, nil
	}

	result, err := s.engine.GetInventory(ctx, &window)
	if err != nil {
		return domain.InventoryResult{}, err
	}

	if !result.Degraded && s.snapshotTTL > 0 {
		if err := s.snapshots.Set(ctx, key, &result, s.snapshotTTL); err != nil {
			s.logger.Warn("snapshot cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// SubmitShiftReport runs the idempotent end-of-shift submission for the
// acting operator. The owner always comes from the authenticated actor, not
// the request body.
func (s *Service) SubmitShiftReport(ctx context.Context, input domain.ShiftReportInput) (domain.SubmitResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SubmitResult{}, fmt.Errorf("submit report: no acting operator")
	}
	input.OwnerID = actor.Username

	if err := validate.Struct(input); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submit report: %w: %v", store.ErrInvalidInput, err)
	}

	result, err := s.engine.SubmitShiftReport(ctx, input)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	s.logger.Info("shift report submitted",
		zap.String("owner_id", result.Report.OwnerID),
		zap.String("shift_id", string(result.Report.ShiftID)),
		zap.String("report_date", result.Report.ReportDate),
		zap.Bool("was_updated", result.WasUpdated))
	return result, nil
}

// BuildReportDraft prefills a submission from the current reconciled
// snapshot, so the dashboard form starts from computed totals.
func (s *Service) BuildReportDraft(ctx context.Context, feedback string) (domain.ShiftReportInput, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftReportInput{}, fmt.Errorf("report draft: no acting operator")
	}

	inventory, err := s.GetInventory(ctx)
	if err != nil {
		return domain.ShiftReportInput{}, err
	}
	return engine.BuildReportInput(actor.Username, feedback, inventory), nil
}

// CheckConflict classifies what a submission would collide with, so the
// dashboard can warn before an overwrite. Nothing is written.
func (s *Service) CheckConflict(ctx context.Context, input domain.ShiftReportInput) (domain.ConflictRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ConflictRecord{}, fmt.Errorf("check conflict: no acting operator")
	}
	input.OwnerID = actor.Username
	return s.engine.CheckConflict(ctx, input)
}

func (s *Service) ListReports(ctx context.Context, limit int) ([]domain.ShiftReport, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("list reports: no acting operator")
	}

	// Admins see every operator's reports.
	ownerID := actor.Username
	if actor.Role == "admin" {
		ownerID = ""
	}
	return s.repo.ListReports(ctx, ownerID, limit)
}

func normalizeItemID(itemID string) string {
	return strings.ToLower(strings.TrimSpace(itemID))
}
