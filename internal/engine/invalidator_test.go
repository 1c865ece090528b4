package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store/memory"
)

func TestNotifyCoalescesBurst(t *testing.T) {
	var triggers int32
	inv := NewInvalidator(memory.New(), 50*time.Millisecond, time.Hour, func(string) {
		atomic.AddInt32(&triggers, 1)
	}, nil)

	for i := 0; i < 20; i++ {
		inv.Notify(domain.ChangeEvent{Op: domain.ChangeInsert, Set: domain.SetSales, At: time.Now()})
	}

	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&triggers); got != 1 {
		t.Fatalf("expected one debounced trigger for a burst, got %d", got)
	}

	// A later event starts a new coalescing interval.
	inv.Notify(domain.ChangeEvent{Op: domain.ChangeInsert, Set: domain.SetSales, At: time.Now()})
	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&triggers); got != 2 {
		t.Fatalf("expected a second trigger after the interval, got %d", got)
	}
}

func TestRunTriggersOnStoreChanges(t *testing.T) {
	repo := memory.New()
	var triggers int32
	inv := NewInvalidator(repo, 20*time.Millisecond, time.Hour, func(string) {
		atomic.AddInt32(&triggers, 1)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inv.Run(ctx)

	// Let the subscription establish, then write.
	time.Sleep(50 * time.Millisecond)
	if _, err := repo.InsertProduction(ctx, productionAt("bread", 5, domain.ShiftMorning, time.Now().UTC())); err != nil {
		t.Fatalf("insert production: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&triggers) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("change event never triggered a recompute")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if inv.Degraded() {
		t.Fatalf("healthy subscription must not report degraded")
	}
}

type noSubscribeRepo struct {
	*memory.Store
}

func (r *noSubscribeRepo) SubscribeChanges(context.Context, []domain.RecordSet) (<-chan domain.ChangeEvent, error) {
	return nil, errors.New("notification channel down")
}

func TestRunDegradesToPollingWhenSubscribeFails(t *testing.T) {
	repo := &noSubscribeRepo{Store: memory.New()}
	var triggers int32
	inv := NewInvalidator(repo, 10*time.Millisecond, 40*time.Millisecond, func(reason string) {
		atomic.AddInt32(&triggers, 1)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inv.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&triggers) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("fallback poll never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !inv.Degraded() {
		t.Fatalf("failed subscription must surface a degraded signal")
	}
}
