package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"rotikita/backend/internal/shiftclock"
	"rotikita/backend/internal/store"
)

// Archiver rotates the live record sets into the archive shortly after each
// shift boundary. The grace delay keeps the closing shift's rows in the live
// set long enough for the end-of-shift report to be built from it; after
// rotation the source selector's archive fallback takes over.
type Archiver struct {
	cron       *cron.Cron
	repo       store.Repository
	boundaries shiftclock.Boundaries
	grace      time.Duration
	logger     *zap.Logger
}

func New(repo store.Repository, boundaries shiftclock.Boundaries, loc *time.Location, grace time.Duration, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if grace < 0 {
		grace = 0
	}
	// The grace offset is expressed as the minute field of the cron spec, so
	// it must stay inside a single hour. Anything longer would also leak the
	// closed window's rows into the next shift's live reads.
	if grace >= time.Hour {
		logger.Warn("rotation grace clamped to under an hour", zap.Duration("requested", grace))
		grace = 55 * time.Minute
	}

	return &Archiver{
		cron:       cron.New(cron.WithLocation(loc)),
		repo:       repo,
		boundaries: boundaries,
		grace:      grace,
		logger:     logger,
	}
}

// Start schedules a rotation at both shift boundaries, offset by the grace
// delay.
func (a *Archiver) Start() error {
	minute := int(a.grace.Minutes())
	spec := fmt.Sprintf("%d %d,%d * * *", minute, a.boundaries.MorningHour, a.boundaries.NightHour)
	if _, err := a.cron.AddFunc(spec, a.rotate); err != nil {
		return fmt.Errorf("archiver: schedule %q: %w", spec, err)
	}

	a.cron.Start()
	a.logger.Info("archiver scheduled", zap.String("spec", spec))
	return nil
}

func (a *Archiver) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
}

func (a *Archiver) rotate() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Everything before the boundary we just crossed belongs to a closed
	// window.
	cutoff := time.Now().Add(-a.grace)

	moved, err := a.repo.RotateLive(ctx, cutoff)
	if err != nil {
		a.logger.Error("rotation failed", zap.Error(err))
		return
	}
	a.logger.Info("live records rotated into archive",
		zap.Int("moved", moved),
		zap.Time("cutoff", cutoff))
}
