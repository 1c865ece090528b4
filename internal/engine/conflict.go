package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
)

// revenueTolerance absorbs rounding drift between a resubmitted report and
// the stored row when classifying it as identical.
var revenueTolerance = decimal.NewFromFloat(0.01)

// ConflictChecker is a pure read used before any report write: it looks up
// the existing report for the logical key and classifies the situation so the
// submit path can choose insert vs update.
type ConflictChecker struct {
	repo store.Repository
}

func NewConflictChecker(repo store.Repository) *ConflictChecker {
	return &ConflictChecker{repo: repo}
}

func (c *ConflictChecker) Check(ctx context.Context, candidate domain.ShiftReportInput) (domain.ConflictRecord, error) {
	existing, err := c.repo.GetReport(ctx, candidate.Key())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ConflictRecord{Exists: false, Kind: domain.ConflictNone}, nil
		}
		return domain.ConflictRecord{}, fmt.Errorf("conflict check: %w", err)
	}

	kind := domain.ConflictDivergent
	if totalsMatch(*existing, candidate) {
		kind = domain.ConflictIdentical
	}
	return domain.ConflictRecord{Exists: true, Kind: kind, ExistingReportID: existing.ID}, nil
}

func totalsMatch(existing domain.ShiftReport, candidate domain.ShiftReportInput) bool {
	if existing.TotalItemsSold != candidate.TotalItemsSold {
		return false
	}
	if existing.TotalRemaining != candidate.TotalRemaining {
		return false
	}
	diff := existing.TotalRevenue.Sub(candidate.TotalRevenue).Abs()
	return diff.LessThanOrEqual(revenueTolerance)
}
