package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceLedger applies signed monetary deltas to customer balances.
// A positive delta gives the customer credit; a negative one adds to what
// the customer owes.
type BalanceLedger struct {
	Store Store

	guard func(key string) error
}

func NewBalanceLedger(store Store) *BalanceLedger {
	return &BalanceLedger{Store: store}
}

// ApplyDelta adds delta to the customer's balance and returns the new balance.
func (l *BalanceLedger) ApplyDelta(ctx context.Context, customerID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if l.guard != nil {
		if err := l.guard(customerKey(customerID)); err != nil {
			return decimal.Zero, err
		}
	}
	if delta.IsZero() {
		c, err := l.Store.GetCustomer(ctx, customerID)
		if err != nil {
			return decimal.Zero, err
		}
		return c.Balance, nil
	}

	c, err := l.Store.AdjustBalance(ctx, customerID, delta)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Balance, nil
}
