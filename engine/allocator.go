/*
allocator.go - FIFO distribution of one customer payment

PURPOSE:
  A customer hands over one amount; it settles their open orders oldest
  first. Whatever is left after every open order is paid becomes credit on
  the customer's balance.

ORDERING:
  Open orders (paymentStatus != Paid) sorted by the order Date field,
  ties broken by order id ascending.

ALGORITHM:
  remaining := amount
  for each open order:
      pay := min(order.Due(), remaining)
      if pay > 0: standalone payment of pay on that order
      remaining -= pay; stop once remaining == 0
  if remaining > 0: balance += remaining (pure credit)

ATOMICITY:
  The whole allocation runs in ONE store transaction, holding the
  customer's key. Every order mutation also holds its customer's key, so
  the open-order set cannot move underneath. Cancelling the context aborts
  the transaction and nothing is applied.

SEE ALSO:
  - order.go: applyPayment, the per-order step
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AllocationResult struct {
	CustomerID  string
	Allocations []Allocation    // in application order
	Credit      decimal.Decimal // unallocated remainder credited to the balance
	Customer    Customer        // customer after the allocation
	Orders      []Order         // orders that received a payment, updated
}

// Applied is the part of the payment that went to orders.
func (r AllocationResult) Applied() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

type PaymentAllocator struct {
	e      *Engine
	orders *OrderManager
}

// Allocate spreads cmd.Amount across the customer's open orders, oldest first.
func (a *PaymentAllocator) Allocate(ctx context.Context, cmd AllocatePaymentCommand) (AllocationResult, error) {
	if err := cmd.Validate(); err != nil {
		return AllocationResult{}, err
	}
	at := dateOr(cmd.Date, a.e.now())
	keys := newKeySet(customerKey(cmd.CustomerID))

	var res AllocationResult
	err := a.e.run(ctx, "payment.allocate", staticPlan(keys), func(ctx context.Context, t *txn) error {
		if _, err := t.store.GetCustomer(ctx, cmd.CustomerID); err != nil {
			return err
		}
		open, err := t.store.ListOrders(ctx, OrderFilter{CustomerID: cmd.CustomerID, OpenOnly: true})
		if err != nil {
			return err
		}
		SortOrdersFIFO(open)

		res = AllocationResult{CustomerID: cmd.CustomerID, Credit: decimal.Zero}
		remaining := cmd.Amount
		for _, o := range open {
			if !remaining.IsPositive() {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			pay := decimal.Min(o.Due(), remaining)
			if !pay.IsPositive() {
				continue
			}
			paid, err := a.orders.applyPayment(ctx, t, o, pay, cmd.PaymentMode, at)
			if err != nil {
				return err
			}
			res.Allocations = append(res.Allocations, Allocation{OrderID: o.ID, Amount: pay})
			res.Orders = append(res.Orders, paid)
			remaining = remaining.Sub(pay)
		}

		if remaining.IsPositive() {
			if _, err := t.balances.ApplyDelta(ctx, cmd.CustomerID, remaining); err != nil {
				return err
			}
			res.Credit = remaining
		}
		res.Customer, err = t.store.GetCustomer(ctx, cmd.CustomerID)
		return err
	})
	if err != nil {
		return AllocationResult{}, err
	}

	a.e.log.Info("customer payment allocated",
		zap.String("customer_id", cmd.CustomerID),
		zap.String("amount", cmd.Amount.String()),
		zap.Int("orders", len(res.Allocations)),
		zap.String("credit", res.Credit.String()))
	return res, nil
}
