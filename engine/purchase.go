/*
purchase.go - Purchase lifecycle

PURPOSE:
  A purchase restocks items and records their latest cost. It never touches
  customer balances.

SIDE EFFECTS OF A COMMITTED PURCHASE:
  - stock_level += quantity, per line
  - unit_cost = line unit price (last line for an item wins)
  - one journal row: id = purchase id, type purchase, amount = total

EDITS (revert-then-reapply):
  1. revertPurchase: -quantity per committed line, remove the journal row.
     Cost prices are left as they are.
  2. applyPurchase: the create steps with the new lines, same id.
  Item sets may differ entirely between versions; no line diffing.

SEE ALSO:
  - order.go: Same pattern, plus customer balance
*/
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type PurchaseResult struct {
	Purchase Purchase
	Items    []InventoryItem // every item whose stock changed
}

type PurchaseManager struct {
	e *Engine
}

// Create validates, restocks, records costs, persists and journals a purchase.
func (m *PurchaseManager) Create(ctx context.Context, cmd CreatePurchaseCommand) (PurchaseResult, error) {
	if err := cmd.Validate(); err != nil {
		return PurchaseResult{}, err
	}
	p := Purchase{
		ID:           m.e.newID(),
		SupplierName: strings.TrimSpace(cmd.SupplierName),
		Date:         dateOr(cmd.Date, m.e.now()),
		Lines:        append([]PurchaseLine(nil), cmd.Lines...),
		PaymentMode:  cmd.PaymentMode,
		Notes:        cmd.Notes,
	}
	keys := newKeySet(purchaseKey(p.ID))
	for _, id := range p.ItemIDs() {
		keys.add(itemKey(id))
	}

	var res PurchaseResult
	err := m.e.run(ctx, "purchase.create", staticPlan(keys), func(ctx context.Context, t *txn) error {
		now := m.e.now()
		p.CreatedAt, p.UpdatedAt = now, now
		applied, err := m.applyPurchase(ctx, t, p)
		if err != nil {
			return err
		}
		res, err = purchaseResult(ctx, t.store, applied, applied.ItemIDs())
		return err
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	m.e.log.Info("purchase created",
		zap.String("purchase_id", p.ID),
		zap.String("supplier", p.SupplierName),
		zap.String("total", res.Purchase.Total.String()),
		zap.Int("lines", len(p.Lines)))
	return res, nil
}

// Update reverts the committed purchase and reapplies it with the new input.
func (m *PurchaseManager) Update(ctx context.Context, cmd UpdatePurchaseCommand) (PurchaseResult, error) {
	if err := cmd.Validate(); err != nil {
		return PurchaseResult{}, err
	}
	plan := func(ctx context.Context) (keySet, error) {
		committed, err := m.e.store.GetPurchase(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		keys := newKeySet(purchaseKey(cmd.ID))
		for _, id := range committed.ItemIDs() {
			keys.add(itemKey(id))
		}
		for _, l := range cmd.Lines {
			keys.add(itemKey(l.ItemID))
		}
		return keys, nil
	}

	var res PurchaseResult
	err := m.e.run(ctx, "purchase.update", plan, func(ctx context.Context, t *txn) error {
		committed, err := t.store.GetPurchase(ctx, cmd.ID)
		if err != nil {
			return err
		}
		// Only the final levels count against the negative-stock policy.
		resume := t.stock.suspendNegativeCheck()
		if err := m.revertPurchase(ctx, t, committed); err != nil {
			resume()
			return err
		}

		next := committed
		if cmd.SupplierName != nil {
			next.SupplierName = strings.TrimSpace(*cmd.SupplierName)
		}
		if cmd.Date != nil {
			next.Date = *cmd.Date
		}
		if cmd.Lines != nil {
			next.Lines = append([]PurchaseLine(nil), cmd.Lines...)
		}
		if cmd.PaymentMode != nil {
			next.PaymentMode = *cmd.PaymentMode
		}
		if cmd.Notes != nil {
			next.Notes = *cmd.Notes
		}
		next.UpdatedAt = m.e.now()

		applied, err := m.applyPurchase(ctx, t, next)
		resume()
		if err != nil {
			return err
		}
		if err := t.stock.CheckNet(ctx, netDeltas(committed.StockDeltas(), applied.StockDeltas())); err != nil {
			return err
		}
		touched := newKeySet(committed.ItemIDs()...)
		touched.add(applied.ItemIDs()...)
		res, err = purchaseResult(ctx, t.store, applied, touched.sorted())
		return err
	})
	if err != nil {
		return PurchaseResult{}, consistencyError("update", "purchase", cmd.ID, err)
	}

	m.e.log.Info("purchase updated",
		zap.String("purchase_id", cmd.ID),
		zap.String("total", res.Purchase.Total.String()))
	return res, nil
}

// Delete reverts the purchase's stock effect and removes it with its journal row.
func (m *PurchaseManager) Delete(ctx context.Context, id string) (PurchaseResult, error) {
	if id == "" {
		return PurchaseResult{}, invalid("id", "is required")
	}
	plan := func(ctx context.Context) (keySet, error) {
		committed, err := m.e.store.GetPurchase(ctx, id)
		if err != nil {
			return nil, err
		}
		keys := newKeySet(purchaseKey(id))
		for _, itemID := range committed.ItemIDs() {
			keys.add(itemKey(itemID))
		}
		return keys, nil
	}

	var res PurchaseResult
	err := m.e.run(ctx, "purchase.delete", plan, func(ctx context.Context, t *txn) error {
		committed, err := t.store.GetPurchase(ctx, id)
		if err != nil {
			return err
		}
		if err := m.revertPurchase(ctx, t, committed); err != nil {
			return err
		}
		if err := t.store.DeletePurchase(ctx, id); err != nil {
			return err
		}
		res, err = purchaseResult(ctx, t.store, committed, committed.ItemIDs())
		return err
	})
	if err != nil {
		return PurchaseResult{}, consistencyError("delete", "purchase", id, err)
	}

	m.e.log.Info("purchase deleted", zap.String("purchase_id", id))
	return res, nil
}

// =============================================================================
// REVERT / APPLY
// =============================================================================

// revertPurchase undoes the stock and journal effects of a committed purchase.
func (m *PurchaseManager) revertPurchase(ctx context.Context, t *txn, committed Purchase) error {
	if _, err := t.stock.ApplyDeltas(ctx, negate(committed.StockDeltas())); err != nil {
		return fmt.Errorf("revert stock: %w", err)
	}
	if _, err := t.journal.RemoveForEntity(ctx, committed.ID, TxPurchase); err != nil {
		return fmt.Errorf("remove journal row: %w", err)
	}
	return nil
}

// applyPurchase restocks, updates cost prices, persists p and writes its journal row.
func (m *PurchaseManager) applyPurchase(ctx context.Context, t *txn, p Purchase) (Purchase, error) {
	if _, err := t.stock.ApplyDeltas(ctx, p.StockDeltas()); err != nil {
		return Purchase{}, err
	}
	for _, l := range p.Lines {
		if err := t.stock.SetUnitCost(ctx, l.ItemID, l.UnitPrice); err != nil {
			return Purchase{}, err
		}
	}
	p.Total = PurchaseTotal(p.Lines)
	if err := t.store.SavePurchase(ctx, p); err != nil {
		return Purchase{}, err
	}
	_, err := t.journal.UpsertForEntity(ctx, p.ID, TxPurchase, EntryFields{
		Date:        p.Date,
		Amount:      p.Total,
		Description: "Purchase from " + p.SupplierName,
		PaymentMode: p.PaymentMode,
	})
	if err != nil {
		return Purchase{}, err
	}
	return p, nil
}

func purchaseResult(ctx context.Context, s Store, p Purchase, itemIDs []string) (PurchaseResult, error) {
	items, err := loadItems(ctx, s, itemIDs)
	if err != nil {
		return PurchaseResult{}, err
	}
	return PurchaseResult{Purchase: p, Items: items}, nil
}
