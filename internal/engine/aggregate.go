package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
)

const (
	readAttempts     = 3
	readBackoffBase  = 150 * time.Millisecond
	readBackoffLimit = 2 * time.Second
)

// Aggregator reconciles the production and sales streams for one shift
// window into per-item snapshots. It is a pure read: safe to run
// concurrently with itself, producing a fresh snapshot each time.
type Aggregator struct {
	repo store.Repository
}

func NewAggregator(repo store.Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// Aggregate loads records for [window.Start, window.End) from the selected
// source and computes produced/sold/available per item. Availability is
// clamped at zero so late or out-of-order corrections never surface as
// negative stock.
func (a *Aggregator) Aggregate(ctx context.Context, window domain.ShiftWindow, source domain.Source) ([]domain.InventorySnapshot, error) {
	filter := store.RecordFilter{ShiftID: window.ShiftID, From: window.Start, To: window.End}

	var production []domain.ProductionRecord
	err := withRetry(ctx, readAttempts, func() error {
		var readErr error
		production, readErr = a.repo.QueryProduction(ctx, source, filter)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate: production read: %w", err)
	}

	var sales []domain.SaleRecord
	err = withRetry(ctx, readAttempts, func() error {
		var readErr error
		sales, readErr = a.repo.QuerySales(ctx, source, filter)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate: sales read: %w", err)
	}

	return reconcile(production, sales), nil
}

type itemTally struct {
	name      string
	produced  int
	sold      int
	unitPrice decimal.Decimal
	revenue   decimal.Decimal
}

func reconcile(production []domain.ProductionRecord, sales []domain.SaleRecord) []domain.InventorySnapshot {
	tallies := make(map[string]*itemTally, len(production))

	tallyFor := func(itemID string, itemName string) *itemTally {
		tally, ok := tallies[itemID]
		if !ok {
			tally = &itemTally{}
			tallies[itemID] = tally
		}
		if tally.name == "" {
			tally.name = itemName
		}
		return tally
	}

	for _, rec := range production {
		tallyFor(rec.ItemID, rec.ItemName).produced += rec.Qty
	}

	for _, sale := range sales {
		tally := tallyFor(sale.ItemID, sale.ItemName)
		tally.sold += sale.Qty

		// Absent pricing is treated as zero, never an error. The entry path
		// rejects discounts above the unit price, so net never goes negative
		// for records written through the service.
		net := sale.UnitPrice.Sub(sale.Discount)
		tally.revenue = tally.revenue.Add(net.Mul(decimal.NewFromInt(int64(sale.Qty))))
		if tally.unitPrice.IsZero() && !sale.UnitPrice.IsZero() {
			tally.unitPrice = sale.UnitPrice
		}
	}

	snapshots := make([]domain.InventorySnapshot, 0, len(tallies))
	for itemID, tally := range tallies {
		available := tally.produced - tally.sold
		if available < 0 {
			available = 0
		}
		snapshots = append(snapshots, domain.InventorySnapshot{
			ItemID:    itemID,
			ItemName:  tally.name,
			Produced:  tally.produced,
			Sold:      tally.sold,
			Available: available,
			UnitPrice: tally.unitPrice,
			Revenue:   tally.revenue,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ItemID < snapshots[j].ItemID
	})
	return snapshots
}

// withRetry retries fn with bounded exponential backoff. Only transient
// storage failures reach this path; context cancellation stops retrying
// immediately.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	backoff := readBackoffBase
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > readBackoffLimit {
				backoff = readBackoffLimit
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// Totals folds snapshots into the scalar totals carried by a shift report.
func Totals(snapshots []domain.InventorySnapshot) (revenue decimal.Decimal, itemsSold int, remaining int) {
	revenue = decimal.Zero
	for _, snap := range snapshots {
		revenue = revenue.Add(snap.Revenue)
		itemsSold += snap.Sold
		remaining += snap.Available
	}
	return revenue, itemsSold, remaining
}
