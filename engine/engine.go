/*
engine.go - Service facade and operation runner

PURPOSE:
  Engine is the single choke point for every mutation. It wires the leaf
  ledgers (stock, balance, journal) to the lifecycle managers and exposes
  the operations callers use.

OPERATION SHAPE (run):
  1. Plan:   read committed state, derive the key set the operation touches
  2. Lock:   acquire every key (sorted, see lock.go)
  3. Commit: inside one store transaction, re-read, revert, reapply
  4. Re-plan if the committed state changed between 1 and 2 so that a
     needed key is not held (bounded, then ErrConcurrencyConflict)

  Stock and balance writes inside step 3 are guarded: touching an item or
  customer whose key is not held aborts the attempt before commit.

EXPOSED OPERATIONS:
  CreatePurchase, UpdatePurchase, DeletePurchase
  CreateOrder, UpdateOrder, DeleteOrder, RecordOrderPayment
  AllocateCustomerPayment
  RecordExpense, DeleteExpense

USAGE:
  eng := engine.New(store.NewTxMemory(), engine.WithLogger(logger))
  res, err := eng.CreateOrder(ctx, engine.CreateOrderCommand{...})

SEE ALSO:
  - purchase.go, order.go, allocator.go: The managers
  - lock.go: KeyLocker
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxPlanAttempts = 3

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store              TxStore
	locker             KeyLocker
	log                *zap.Logger
	now                func() time.Time
	newID              func() string
	allowNegativeStock bool

	Purchases *PurchaseManager
	Orders    *OrderManager
	Payments  *PaymentAllocator
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithLocker replaces the in-process locker, e.g. with a distributed one.
func WithLocker(l KeyLocker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithNegativeStock controls whether stock_level may drop below zero.
// Allowed by default.
func WithNegativeStock(allow bool) Option {
	return func(e *Engine) { e.allowNegativeStock = allow }
}

func New(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:              store,
		locker:             NewLocalLocker(),
		log:                zap.NewNop(),
		now:                func() time.Time { return time.Now().UTC() },
		newID:              uuid.NewString,
		allowNegativeStock: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Purchases = &PurchaseManager{e: e}
	e.Orders = &OrderManager{e: e}
	e.Payments = &PaymentAllocator{e: e, orders: e.Orders}
	return e
}

// =============================================================================
// OPERATION RUNNER
// =============================================================================

// txn is what an operation sees inside one store transaction.
type txn struct {
	store    Store
	held     keySet
	stock    *StockLedger
	balances *BalanceLedger
	journal  *Journal
}

func (e *Engine) newTxn(s Store, held keySet) *txn {
	guard := func(key string) error {
		if !held.has(key) {
			return errLockSetChanged
		}
		return nil
	}
	stock := NewStockLedger(s, e.allowNegativeStock)
	stock.guard = guard
	balances := NewBalanceLedger(s)
	balances.guard = guard
	return &txn{
		store:    s,
		held:     held,
		stock:    stock,
		balances: balances,
		journal:  NewJournal(s, e.now, e.newID),
	}
}

type planFunc func(ctx context.Context) (keySet, error)

func staticPlan(keys keySet) planFunc {
	return func(context.Context) (keySet, error) { return keys, nil }
}

func (e *Engine) run(ctx context.Context, op string, plan planFunc, fn func(ctx context.Context, t *txn) error) error {
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		keys, err := plan(ctx)
		if err != nil {
			return err
		}
		unlock, err := lockAll(ctx, e.locker, keys)
		if err != nil {
			return err
		}
		err = e.store.WithTx(ctx, func(s Store) error {
			return fn(ctx, e.newTxn(s, keys))
		})
		unlock()

		if errors.Is(err, errLockSetChanged) {
			e.log.Warn("committed state moved, re-planning",
				zap.String("op", op), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			e.log.Warn("operation rolled back", zap.String("op", op), zap.Error(err))
		}
		return err
	}
	return fmt.Errorf("%s: %w", op, ErrConcurrencyConflict)
}

func loadItems(ctx context.Context, s Store, ids []string) ([]InventoryItem, error) {
	items := make([]InventoryItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func dateOr(d, fallback time.Time) time.Time {
	if d.IsZero() {
		return fallback
	}
	return d
}

// =============================================================================
// EXPOSED OPERATIONS
// =============================================================================

func (e *Engine) CreatePurchase(ctx context.Context, cmd CreatePurchaseCommand) (PurchaseResult, error) {
	return e.Purchases.Create(ctx, cmd)
}

func (e *Engine) UpdatePurchase(ctx context.Context, cmd UpdatePurchaseCommand) (PurchaseResult, error) {
	return e.Purchases.Update(ctx, cmd)
}

func (e *Engine) DeletePurchase(ctx context.Context, id string) (PurchaseResult, error) {
	return e.Purchases.Delete(ctx, id)
}

func (e *Engine) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderResult, error) {
	return e.Orders.Create(ctx, cmd)
}

func (e *Engine) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (OrderResult, error) {
	return e.Orders.Update(ctx, cmd)
}

func (e *Engine) DeleteOrder(ctx context.Context, id string) (OrderResult, error) {
	return e.Orders.Delete(ctx, id)
}

// RecordOrderPayment adds amount to the order's amount paid. Amounts above the
// order's Due are rejected with a ValidationError; use AllocateCustomerPayment
// to take an overpayment as customer credit.
func (e *Engine) RecordOrderPayment(ctx context.Context, cmd RecordPaymentCommand) (OrderResult, error) {
	return e.Orders.RecordPayment(ctx, cmd)
}

func (e *Engine) AllocateCustomerPayment(ctx context.Context, cmd AllocatePaymentCommand) (AllocationResult, error) {
	return e.Payments.Allocate(ctx, cmd)
}

// RecordExpense inserts a manual expense row.
func (e *Engine) RecordExpense(ctx context.Context, cmd RecordExpenseCommand) (Transaction, error) {
	if err := cmd.Validate(); err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	err := e.run(ctx, "expense.record", staticPlan(newKeySet()), func(ctx context.Context, t *txn) error {
		var err error
		tx, err = t.journal.InsertExpense(ctx, EntryFields{
			Date:        cmd.Date,
			Amount:      cmd.Amount,
			Description: cmd.Description,
			PaymentMode: cmd.PaymentMode,
			Category:    cmd.Category,
		})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	e.log.Info("expense recorded", zap.String("transaction_id", tx.ID), zap.String("amount", tx.Amount.String()))
	return tx, nil
}

// DeleteExpense removes an expense row and returns it.
func (e *Engine) DeleteExpense(ctx context.Context, id string) (Transaction, error) {
	if id == "" {
		return Transaction{}, invalid("id", "is required")
	}
	var tx Transaction
	err := e.run(ctx, "expense.delete", staticPlan(newKeySet()), func(ctx context.Context, t *txn) error {
		var err error
		tx, err = t.journal.DeleteExpense(ctx, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	e.log.Info("expense deleted", zap.String("transaction_id", id))
	return tx, nil
}

// =============================================================================
// CATALOG SETUP
// =============================================================================

func (e *Engine) CreateItem(ctx context.Context, cmd CreateItemCommand) (InventoryItem, error) {
	if err := cmd.Validate(); err != nil {
		return InventoryItem{}, err
	}
	item := InventoryItem{
		ID:           cmd.ID,
		SKU:          cmd.SKU,
		Name:         cmd.Name,
		StockLevel:   cmd.StockLevel,
		ReorderLevel: cmd.ReorderLevel,
		UnitCost:     cmd.UnitCost,
		SellingPrice: cmd.SellingPrice,
	}
	if item.ID == "" {
		item.ID = e.newID()
	}
	err := e.run(ctx, "item.create", staticPlan(newKeySet(itemKey(item.ID))), func(ctx context.Context, t *txn) error {
		if _, err := t.store.GetItem(ctx, item.ID); err == nil {
			return fmt.Errorf("item %s: %w", item.ID, ErrDuplicateEntry)
		} else if !IsNotFound(err) {
			return err
		}
		item.UpdatedAt = e.now()
		return t.store.SaveItem(ctx, item)
	})
	if err != nil {
		return InventoryItem{}, err
	}
	return e.store.GetItem(ctx, item.ID)
}

func (e *Engine) CreateCustomer(ctx context.Context, cmd CreateCustomerCommand) (Customer, error) {
	if err := cmd.Validate(); err != nil {
		return Customer{}, err
	}
	c := Customer{ID: cmd.ID, Name: cmd.Name, Phone: cmd.Phone, Balance: cmd.OpeningBalance}
	if c.ID == "" {
		c.ID = e.newID()
	}
	err := e.run(ctx, "customer.create", staticPlan(newKeySet(customerKey(c.ID))), func(ctx context.Context, t *txn) error {
		if _, err := t.store.GetCustomer(ctx, c.ID); err == nil {
			return fmt.Errorf("customer %s: %w", c.ID, ErrDuplicateEntry)
		} else if !IsNotFound(err) {
			return err
		}
		c.UpdatedAt = e.now()
		return t.store.SaveCustomer(ctx, c)
	})
	if err != nil {
		return Customer{}, err
	}
	return e.store.GetCustomer(ctx, c.ID)
}

// =============================================================================
// READ PATHS
// =============================================================================

func (e *Engine) GetItem(ctx context.Context, id string) (InventoryItem, error) {
	return e.store.GetItem(ctx, id)
}

func (e *Engine) ListItems(ctx context.Context) ([]InventoryItem, error) {
	return e.store.ListItems(ctx)
}

// ListLowStock returns items at or below their reorder level.
func (e *Engine) ListLowStock(ctx context.Context) ([]InventoryItem, error) {
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]InventoryItem, 0)
	for _, item := range items {
		if item.NeedsReorder() {
			low = append(low, item)
		}
	}
	return low, nil
}

func (e *Engine) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return e.store.GetCustomer(ctx, id)
}

func (e *Engine) ListCustomers(ctx context.Context) ([]Customer, error) {
	return e.store.ListCustomers(ctx)
}

func (e *Engine) GetOrder(ctx context.Context, id string) (Order, error) {
	return e.store.GetOrder(ctx, id)
}

func (e *Engine) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	return e.store.ListOrders(ctx, filter)
}

func (e *Engine) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	return e.store.GetPurchase(ctx, id)
}

func (e *Engine) ListPurchases(ctx context.Context) ([]Purchase, error) {
	return e.store.ListPurchases(ctx)
}

func (e *Engine) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return e.store.ListTransactions(ctx, filter)
}
