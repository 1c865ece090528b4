package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
)

const (
	defaultDebounce     = time.Second
	defaultPollInterval = 30 * time.Second
)

// Invalidator keeps the inventory computation fresh. Two triggers feed one
// debounced recompute function: the storage change feed (push) and a
// low-frequency fallback poll, because the push channel may silently drop
// events. When the subscription cannot be established or dies, the
// invalidator degrades to polling only and flags the condition; the read
// path keeps working.
type Invalidator struct {
	repo      store.Repository
	debounce  time.Duration
	pollEvery time.Duration
	trigger   func(reason string)
	logger    *zap.Logger

	degraded atomic.Bool

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
}

func NewInvalidator(repo store.Repository, debounce time.Duration, pollEvery time.Duration, trigger func(reason string), logger *zap.Logger) *Invalidator {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if pollEvery <= 0 {
		pollEvery = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		repo:      repo,
		debounce:  debounce,
		pollEvery: pollEvery,
		trigger:   trigger,
		logger:    logger,
	}
}

// Degraded reports whether freshness currently depends on polling alone.
func (inv *Invalidator) Degraded() bool {
	return inv.degraded.Load()
}

// Run blocks until ctx is cancelled. It owns both freshness triggers: the
// change subscription (re-established with the poll cadence after a failure)
// and the fallback poll ticker.
func (inv *Invalidator) Run(ctx context.Context) {
	go inv.pollLoop(ctx)

	for {
		events, err := inv.repo.SubscribeChanges(ctx, []domain.RecordSet{domain.SetProduction, domain.SetSales})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if inv.degraded.CompareAndSwap(false, true) {
				inv.logger.Warn("change feed unavailable, polling only", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(inv.pollEvery):
			}
			continue
		}

		if inv.degraded.CompareAndSwap(true, false) {
			inv.logger.Info("change feed restored")
		}
		// A fresh subscription may have missed events while down.
		inv.Notify(domain.ChangeEvent{Op: domain.ChangeUpdate, At: time.Now()})

		if !inv.consume(ctx, events) {
			return
		}
		if inv.degraded.CompareAndSwap(false, true) {
			inv.logger.Warn("change feed stopped, polling only")
		}
	}
}

// consume drains the event stream. Returns false when ctx ended, true when
// the stream closed and a resubscribe should be attempted.
func (inv *Invalidator) consume(ctx context.Context, events <-chan domain.ChangeEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return true
			}
			inv.Notify(event)
		}
	}
}

// Notify schedules one debounced recompute. Any number of events landing
// within the coalescing interval collapse into a single trigger.
func (inv *Invalidator) Notify(event domain.ChangeEvent) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.pending {
		return
	}
	inv.pending = true
	inv.timer = time.AfterFunc(inv.debounce, func() {
		inv.mu.Lock()
		inv.pending = false
		inv.mu.Unlock()
		inv.trigger("change:" + string(event.Set))
	})
}

func (inv *Invalidator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(inv.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			inv.mu.Lock()
			if inv.timer != nil {
				inv.timer.Stop()
				inv.pending = false
			}
			inv.mu.Unlock()
			return
		case <-ticker.C:
			inv.trigger("poll")
		}
	}
}
