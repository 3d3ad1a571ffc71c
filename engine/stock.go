package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// StockLedger applies signed quantity deltas to inventory items. It never
// decides the sign; callers compute deltas.
type StockLedger struct {
	Store Store

	// AllowNegative permits stock_level to drop below zero.
	AllowNegative bool

	// guard rejects writes to keys the running operation did not lock.
	guard func(key string) error
}

func NewStockLedger(store Store, allowNegative bool) *StockLedger {
	return &StockLedger{Store: store, AllowNegative: allowNegative}
}

// ApplyDelta adds delta to the item's stock level and returns the new level.
func (l *StockLedger) ApplyDelta(ctx context.Context, itemID string, delta int64) (int64, error) {
	if l.guard != nil {
		if err := l.guard(itemKey(itemID)); err != nil {
			return 0, err
		}
	}
	if delta == 0 {
		item, err := l.Store.GetItem(ctx, itemID)
		if err != nil {
			return 0, err
		}
		return item.StockLevel, nil
	}

	item, err := l.Store.AdjustStock(ctx, itemID, delta)
	if err != nil {
		return 0, err
	}
	if !l.AllowNegative && delta < 0 && item.StockLevel < 0 {
		return item.StockLevel, &InsufficientStockError{
			ItemID:    itemID,
			Available: item.StockLevel - delta,
			Requested: -delta,
		}
	}
	return item.StockLevel, nil
}

// ApplyDeltas applies one delta per item, in item id order.
func (l *StockLedger) ApplyDeltas(ctx context.Context, deltas map[string]int64) (map[string]int64, error) {
	levels := make(map[string]int64, len(deltas))
	for _, id := range sortedKeys(deltas) {
		level, err := l.ApplyDelta(ctx, id, deltas[id])
		if err != nil {
			return nil, err
		}
		levels[id] = level
	}
	return levels, nil
}

// SetUnitCost records the latest purchase cost of an item. Stock is untouched.
func (l *StockLedger) SetUnitCost(ctx context.Context, itemID string, cost decimal.Decimal) error {
	if l.guard != nil {
		if err := l.guard(itemKey(itemID)); err != nil {
			return err
		}
	}
	return l.Store.SetUnitCost(ctx, itemID, cost)
}

// suspendNegativeCheck lets intermediate steps of an edit pass through
// negative levels. The returned func restores the policy; CheckNet then
// judges the edit by its final levels.
func (l *StockLedger) suspendNegativeCheck() func() {
	prev := l.AllowNegative
	l.AllowNegative = true
	return func() { l.AllowNegative = prev }
}

// CheckNet enforces the negative-stock policy on items an edit lowered by
// net[id] units in total. Items the edit raised or left alone always pass.
func (l *StockLedger) CheckNet(ctx context.Context, net map[string]int64) error {
	if l.AllowNegative {
		return nil
	}
	for _, id := range sortedKeys(net) {
		d := net[id]
		if d >= 0 {
			continue
		}
		item, err := l.Store.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if item.StockLevel < 0 {
			return &InsufficientStockError{
				ItemID:    id,
				Available: item.StockLevel - d,
				Requested: -d,
			}
		}
	}
	return nil
}

// netDeltas is next minus prev per item.
func netDeltas(prev, next map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(prev)+len(next))
	for k, v := range next {
		out[k] += v
	}
	for k, v := range prev {
		out[k] -= v
	}
	return out
}

// negate flips the sign of every delta, for reverting a committed effect.
func negate(deltas map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(deltas))
	for k, v := range deltas {
		out[k] = -v
	}
	return out
}
