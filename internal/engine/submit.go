package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
)

// UpsertEngine owns the report write path. Per submission it runs
// check -> insert-or-update -> committed, and stays idempotent under retries
// and page revisits: the same logical key always ends up with exactly one
// row.
//
// Three layers defend the (owner, shift, date) key against a duplicate-first-
// submission race: the conflict check picks insert vs update cheaply, the
// storage unique constraint is the authoritative race-breaker, and a failed
// insert is converted into one update retry instead of an error.
type UpsertEngine struct {
	repo    store.Repository
	checker *ConflictChecker
	logger  *zap.Logger
}

func NewUpsertEngine(repo store.Repository, checker *ConflictChecker, logger *zap.Logger) *UpsertEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpsertEngine{repo: repo, checker: checker, logger: logger}
}

func (e *UpsertEngine) Submit(ctx context.Context, input domain.ShiftReportInput) (domain.SubmitResult, error) {
	if input.OwnerID == "" || input.ShiftID == "" || input.ReportDate == "" {
		return domain.SubmitResult{}, fmt.Errorf("submit: incomplete report key: %w", store.ErrInvalidInput)
	}

	conflict, err := e.checker.Check(ctx, input)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	if !conflict.Exists {
		created, err := e.repo.InsertReport(ctx, input)
		if err == nil {
			return domain.SubmitResult{Report: *created, WasUpdated: false}, nil
		}
		if !errors.Is(err, store.ErrDuplicateReport) {
			return domain.SubmitResult{}, fmt.Errorf("submit: insert: %w", err)
		}
		// A concurrent first submission won the insert. Re-read the row the
		// other writer committed and fall through to the update path.
		e.logger.Info("report key collision recovered as update",
			zap.String("owner_id", input.OwnerID),
			zap.String("shift_id", string(input.ShiftID)),
			zap.String("report_date", input.ReportDate))
		conflict, err = e.checker.Check(ctx, input)
		if err != nil {
			return domain.SubmitResult{}, err
		}
		if !conflict.Exists {
			return domain.SubmitResult{}, fmt.Errorf("submit: duplicate key but no row found for %s/%s/%s",
				input.OwnerID, input.ShiftID, input.ReportDate)
		}
	}

	if conflict.Kind == domain.ConflictDivergent {
		// Legitimate re-report or data-entry correction; latest submission
		// wins, but keep an audit trail.
		e.logger.Warn("divergent resubmission overwrites existing report",
			zap.String("report_id", conflict.ExistingReportID),
			zap.String("owner_id", input.OwnerID),
			zap.String("shift_id", string(input.ShiftID)),
			zap.String("report_date", input.ReportDate))
	}

	updated, err := e.repo.UpdateReport(ctx, conflict.ExistingReportID, input)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submit: update: %w", err)
	}
	return domain.SubmitResult{Report: *updated, WasUpdated: true}, nil
}
