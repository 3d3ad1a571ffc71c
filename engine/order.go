/*
order.go - Sales order lifecycle

PURPOSE:
  An order consumes stock, charges the customer's balance and, while
  anything has been paid, carries one journal row for the payments.

SIDE EFFECTS OF A COMMITTED ORDER:
  - stock_level -= quantity + freeQty, per line (free units still leave stock)
  - customer balance += amountPaid - total
  - journal row (id = order id, type order, amount = amountPaid) iff amountPaid > 0

DERIVED FIELDS:
  total = Σ quantity×sellingPrice − discount
  paymentStatus = Paid if amountPaid ≥ total, Partial if 0 < amountPaid < total, else Unpaid

EDITS AND DELETES (revert-then-reapply):
  1. revertOrder: +quantity+freeQty per committed line, balance -= committed
     (amountPaid - total), remove the journal row
  2. applyOrder: the create steps with the merged input, same id
  Delete runs step 1 and removes the row.

STANDALONE PAYMENTS:
  applyPayment adds to amountPaid and the balance, recomputes status and
  replaces the journal row. Used by RecordPayment and the FIFO allocator.

SEE ALSO:
  - allocator.go: Spreads one payment across open orders
  - purchase.go: Same revert-then-reapply pattern
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderResult struct {
	Order    Order
	Customer Customer        // customer after the operation
	Items    []InventoryItem // every item whose stock changed
}

type OrderManager struct {
	e *Engine
}

// Create validates, consumes stock, charges the customer, persists and journals an order.
func (m *OrderManager) Create(ctx context.Context, cmd CreateOrderCommand) (OrderResult, error) {
	if err := cmd.Validate(); err != nil {
		return OrderResult{}, err
	}
	lines, err := normalizeOrderLines(cmd.Lines)
	if err != nil {
		return OrderResult{}, err
	}
	delivery := cmd.DeliveryStatus
	if delivery == "" {
		delivery = DeliveryPending
	}
	o := Order{
		ID:             m.e.newID(),
		CustomerID:     cmd.CustomerID,
		Date:           dateOr(cmd.Date, m.e.now()),
		Lines:          lines,
		Discount:       cmd.Discount,
		AmountPaid:     cmd.AmountPaid,
		DeliveryStatus: delivery,
		PaymentMode:    cmd.PaymentMode,
		Notes:          cmd.Notes,
	}
	keys := newKeySet(orderKey(o.ID), customerKey(o.CustomerID))
	for _, id := range o.ItemIDs() {
		keys.add(itemKey(id))
	}

	var res OrderResult
	err = m.e.run(ctx, "order.create", staticPlan(keys), func(ctx context.Context, t *txn) error {
		now := m.e.now()
		o.CreatedAt, o.UpdatedAt = now, now
		applied, err := m.applyOrder(ctx, t, o)
		if err != nil {
			return err
		}
		res, err = orderResult(ctx, t.store, applied, applied.ItemIDs())
		return err
	})
	if err != nil {
		return OrderResult{}, err
	}

	m.e.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.String("total", res.Order.Total.String()),
		zap.String("amount_paid", res.Order.AmountPaid.String()),
		zap.String("payment_status", string(res.Order.PaymentStatus)))
	return res, nil
}

// Update reverts the committed order and reapplies it with the merged input.
func (m *OrderManager) Update(ctx context.Context, cmd UpdateOrderCommand) (OrderResult, error) {
	if err := cmd.Validate(); err != nil {
		return OrderResult{}, err
	}
	var newLines []OrderLine
	if cmd.Lines != nil {
		var err error
		if newLines, err = normalizeOrderLines(cmd.Lines); err != nil {
			return OrderResult{}, err
		}
	}

	plan := func(ctx context.Context) (keySet, error) {
		committed, err := m.e.store.GetOrder(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		keys := newKeySet(orderKey(cmd.ID), customerKey(committed.CustomerID))
		if cmd.CustomerID != nil {
			keys.add(customerKey(*cmd.CustomerID))
		}
		for _, id := range committed.ItemIDs() {
			keys.add(itemKey(id))
		}
		for _, l := range newLines {
			keys.add(itemKey(l.ItemID))
		}
		return keys, nil
	}

	var res OrderResult
	err := m.e.run(ctx, "order.update", plan, func(ctx context.Context, t *txn) error {
		committed, err := t.store.GetOrder(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if err := m.revertOrder(ctx, t, committed); err != nil {
			return err
		}

		next := committed
		if cmd.CustomerID != nil {
			next.CustomerID = *cmd.CustomerID
		}
		if cmd.Date != nil {
			next.Date = *cmd.Date
		}
		if newLines != nil {
			next.Lines = newLines
		}
		if cmd.Discount != nil {
			next.Discount = *cmd.Discount
		}
		if cmd.AmountPaid != nil {
			next.AmountPaid = *cmd.AmountPaid
		}
		if cmd.PaymentMode != nil {
			next.PaymentMode = *cmd.PaymentMode
		}
		if cmd.DeliveryStatus != nil {
			next.DeliveryStatus = *cmd.DeliveryStatus
		}
		if cmd.Notes != nil {
			next.Notes = *cmd.Notes
		}
		next.UpdatedAt = m.e.now()

		applied, err := m.applyOrder(ctx, t, next)
		if err != nil {
			return err
		}
		touched := newKeySet(committed.ItemIDs()...)
		touched.add(applied.ItemIDs()...)
		res, err = orderResult(ctx, t.store, applied, touched.sorted())
		return err
	})
	if err != nil {
		return OrderResult{}, consistencyError("update", "order", cmd.ID, err)
	}

	m.e.log.Info("order updated",
		zap.String("order_id", cmd.ID),
		zap.String("total", res.Order.Total.String()),
		zap.String("payment_status", string(res.Order.PaymentStatus)))
	return res, nil
}

// Delete reverts stock and customer balance, then removes the order and its journal row.
func (m *OrderManager) Delete(ctx context.Context, id string) (OrderResult, error) {
	if id == "" {
		return OrderResult{}, invalid("id", "is required")
	}
	plan := func(ctx context.Context) (keySet, error) {
		committed, err := m.e.store.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		keys := newKeySet(orderKey(id), customerKey(committed.CustomerID))
		for _, itemID := range committed.ItemIDs() {
			keys.add(itemKey(itemID))
		}
		return keys, nil
	}

	var res OrderResult
	err := m.e.run(ctx, "order.delete", plan, func(ctx context.Context, t *txn) error {
		committed, err := t.store.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := m.revertOrder(ctx, t, committed); err != nil {
			return err
		}
		if err := t.store.DeleteOrder(ctx, id); err != nil {
			return err
		}
		res, err = orderResult(ctx, t.store, committed, committed.ItemIDs())
		return err
	})
	if err != nil {
		return OrderResult{}, consistencyError("delete", "order", id, err)
	}

	m.e.log.Info("order deleted",
		zap.String("order_id", id),
		zap.String("customer_id", res.Customer.ID))
	return res, nil
}

// RecordPayment applies a standalone payment to one order. The amount may
// not exceed what is due; use the allocator to turn overpayment into credit.
func (m *OrderManager) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (OrderResult, error) {
	if err := cmd.Validate(); err != nil {
		return OrderResult{}, err
	}
	plan := func(ctx context.Context) (keySet, error) {
		committed, err := m.e.store.GetOrder(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		return newKeySet(orderKey(cmd.OrderID), customerKey(committed.CustomerID)), nil
	}

	var res OrderResult
	err := m.e.run(ctx, "order.payment", plan, func(ctx context.Context, t *txn) error {
		committed, err := t.store.GetOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if cmd.Amount.GreaterThan(committed.Due()) {
			return invalid("amount", "%s exceeds the amount due %s", cmd.Amount, committed.Due())
		}
		paid, err := m.applyPayment(ctx, t, committed, cmd.Amount, cmd.PaymentMode, dateOr(cmd.Date, m.e.now()))
		if err != nil {
			return err
		}
		res, err = orderResult(ctx, t.store, paid, nil)
		return err
	})
	if err != nil {
		return OrderResult{}, err
	}

	m.e.log.Info("order payment recorded",
		zap.String("order_id", cmd.OrderID),
		zap.String("amount", cmd.Amount.String()),
		zap.String("payment_status", string(res.Order.PaymentStatus)))
	return res, nil
}

// =============================================================================
// REVERT / APPLY
// =============================================================================

// revertOrder undoes the stock, balance and journal effects of a committed order.
func (m *OrderManager) revertOrder(ctx context.Context, t *txn, committed Order) error {
	if _, err := t.stock.ApplyDeltas(ctx, negate(committed.StockDeltas())); err != nil {
		return fmt.Errorf("revert stock: %w", err)
	}
	if _, err := t.balances.ApplyDelta(ctx, committed.CustomerID, committed.BalanceEffect().Neg()); err != nil {
		return fmt.Errorf("revert balance: %w", err)
	}
	if _, err := t.journal.RemoveForEntity(ctx, committed.ID, TxOrder); err != nil {
		return fmt.Errorf("remove journal row: %w", err)
	}
	return nil
}

// applyOrder derives totals, consumes stock, charges the customer, persists o
// and writes its journal row.
func (m *OrderManager) applyOrder(ctx context.Context, t *txn, o Order) (Order, error) {
	if _, err := t.store.GetCustomer(ctx, o.CustomerID); err != nil {
		return Order{}, err
	}
	lines, err := priceLines(ctx, t.store, o.Lines)
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines
	o.Total = OrderTotal(o.Lines, o.Discount)
	if o.Total.IsNegative() {
		return Order{}, invalid("discount", "%s exceeds the order value", o.Discount)
	}
	o.PaymentStatus = ComputePaymentStatus(o.AmountPaid, o.Total)

	if _, err := t.stock.ApplyDeltas(ctx, o.StockDeltas()); err != nil {
		return Order{}, err
	}
	if _, err := t.balances.ApplyDelta(ctx, o.CustomerID, o.BalanceEffect()); err != nil {
		return Order{}, err
	}
	if err := t.store.SaveOrder(ctx, o); err != nil {
		return Order{}, err
	}
	if err := syncOrderJournal(ctx, t, o, o.Date); err != nil {
		return Order{}, err
	}
	return o, nil
}

// applyPayment is the standalone payment path: credit the customer, raise
// amountPaid, recompute status and replace the journal row.
func (m *OrderManager) applyPayment(ctx context.Context, t *txn, o Order, amount decimal.Decimal, mode string, at time.Time) (Order, error) {
	if _, err := t.balances.ApplyDelta(ctx, o.CustomerID, amount); err != nil {
		return Order{}, err
	}
	o.AmountPaid = o.AmountPaid.Add(amount)
	o.PaymentStatus = ComputePaymentStatus(o.AmountPaid, o.Total)
	if o.PaymentMode == "" {
		o.PaymentMode = mode
	}
	o.UpdatedAt = m.e.now()
	if err := t.store.SaveOrder(ctx, o); err != nil {
		return Order{}, err
	}
	if mode == "" {
		mode = o.PaymentMode
	}
	_, err := t.journal.UpsertForEntity(ctx, o.ID, TxOrder, EntryFields{
		Date:        at,
		Amount:      o.AmountPaid,
		Description: orderPaymentDescription(o),
		PaymentMode: mode,
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func syncOrderJournal(ctx context.Context, t *txn, o Order, at time.Time) error {
	if !o.AmountPaid.IsPositive() {
		_, err := t.journal.RemoveForEntity(ctx, o.ID, TxOrder)
		return err
	}
	_, err := t.journal.UpsertForEntity(ctx, o.ID, TxOrder, EntryFields{
		Date:        at,
		Amount:      o.AmountPaid,
		Description: orderPaymentDescription(o),
		PaymentMode: o.PaymentMode,
	})
	return err
}

func orderPaymentDescription(o Order) string {
	return fmt.Sprintf("Payment for order %s (%s)", o.ID, o.PaymentStatus)
}

// priceLines fills zero selling prices from the catalog and snapshots the
// item's cost when the line carries none.
func priceLines(ctx context.Context, s Store, lines []OrderLine) ([]OrderLine, error) {
	out := make([]OrderLine, len(lines))
	for i, l := range lines {
		if l.SellingPrice.IsZero() || l.UnitPrice.IsZero() {
			item, err := s.GetItem(ctx, l.ItemID)
			if err != nil {
				return nil, err
			}
			if l.SellingPrice.IsZero() {
				l.SellingPrice = item.SellingPrice
			}
			if l.UnitPrice.IsZero() {
				l.UnitPrice = item.UnitCost
			}
		}
		out[i] = l
	}
	return out, nil
}

func orderResult(ctx context.Context, s Store, o Order, itemIDs []string) (OrderResult, error) {
	customer, err := s.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		return OrderResult{}, err
	}
	items, err := loadItems(ctx, s, itemIDs)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{Order: o, Customer: customer, Items: items}, nil
}
