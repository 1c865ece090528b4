package engine

import (
	"context"
	"fmt"
	"time"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/shiftclock"
	"rotikita/backend/internal/store"
)

// SourceSelector decides which record set holds the authoritative data for a
// shift window. The live set is rotated into the archive on a schedule, so
// immediately after rotation the live set can be transiently empty while the
// archive already holds the window's rows; the ordered fallback below keeps
// that gap from surfacing as "no data".
type SourceSelector struct {
	repo store.Repository
	now  func() time.Time
}

func NewSourceSelector(repo store.Repository) *SourceSelector {
	return &SourceSelector{repo: repo, now: time.Now}
}

// Select resolves the source for window. Order: live if it has any record for
// the window, else archived, else (overnight window only) an extended
// archived probe from the previous cycle boundary to now. When nothing
// matches the decision is empty, never fabricated.
func (s *SourceSelector) Select(ctx context.Context, window domain.ShiftWindow) (domain.SourceDecision, error) {
	filter := store.RecordFilter{ShiftID: window.ShiftID, From: window.Start, To: window.End}

	live, err := s.countBothSets(ctx, domain.SourceLive, filter)
	if err != nil {
		return domain.SourceDecision{}, fmt.Errorf("selector: live probe: %w", err)
	}
	if live > 0 {
		return domain.SourceDecision{Source: domain.SourceLive, Reason: domain.SourceReasonLive}, nil
	}

	archived, err := s.countBothSets(ctx, domain.SourceArchived, filter)
	if err != nil {
		return domain.SourceDecision{}, fmt.Errorf("selector: archive probe: %w", err)
	}
	if archived > 0 {
		return domain.SourceDecision{Source: domain.SourceArchived, Reason: domain.SourceReasonArchived}, nil
	}

	if window.Overnight() {
		extended := store.RecordFilter{
			ShiftID: window.ShiftID,
			From:    shiftclock.PreviousCycleStart(window),
			To:      s.now(),
		}
		count, err := s.countBothSets(ctx, domain.SourceArchived, extended)
		if err != nil {
			return domain.SourceDecision{}, fmt.Errorf("selector: extended archive probe: %w", err)
		}
		if count > 0 {
			return domain.SourceDecision{Source: domain.SourceArchived, Reason: domain.SourceReasonExtended}, nil
		}
	}

	return domain.SourceDecision{Reason: domain.SourceReasonEmpty, Empty: true}, nil
}

func (s *SourceSelector) countBothSets(ctx context.Context, source domain.Source, filter store.RecordFilter) (int, error) {
	production, err := s.repo.CountRecords(ctx, domain.SetProduction, source, filter)
	if err != nil {
		return 0, err
	}
	sales, err := s.repo.CountRecords(ctx, domain.SetSales, source, filter)
	if err != nil {
		return 0, err
	}
	return production + sales, nil
}
