// Package store provides in-memory engine.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/trade-ledger/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================
//
// Every row carries a version. A transaction works on a private overlay,
// remembers the version of every row it read or wrote, and at commit checks
// those versions are unchanged before publishing its writes. A mismatch is
// engine.ErrConcurrencyConflict. The commit critical section is the only
// point where transactions on unrelated rows contend.

type table string

const (
	tableItems        table = "items"
	tableCustomers    table = "customers"
	tableOrders       table = "orders"
	tablePurchases    table = "purchases"
	tableTransactions table = "transactions"
)

type rowKey struct {
	table table
	id    string
}

// row.value == nil is a tombstone; its version keeps counting.
type row struct {
	value   any
	version int64
}

type Memory struct {
	mu     sync.RWMutex
	tables map[table]map[string]row
}

func NewMemory() *Memory {
	return &Memory{
		tables: map[table]map[string]row{
			tableItems:        {},
			tableCustomers:    {},
			tableOrders:       {},
			tablePurchases:    {},
			tableTransactions: {},
		},
	}
}

// Reset clears all data (for testing/demo). Versions restart, so
// transactions open across a reset fail at commit.
func (m *Memory) Reset(context.Context) error {
	fresh := NewMemory()
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, rows := range m.tables {
		for id, r := range rows {
			fresh.tables[t][id] = row{version: r.version + 1}
		}
	}
	m.tables = fresh.tables
	return nil
}

func (m *Memory) current(k rowKey) row {
	return m.tables[k.table][k.id]
}

// autocommit runs a single store call as its own transaction.
func autocommit[T any](ctx context.Context, m *Memory, fn func(v *view) (T, error)) (T, error) {
	v := newView(m)
	out, err := fn(v)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := v.commit(ctx); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func exec(ctx context.Context, m *Memory, fn func(v *view) error) error {
	_, err := autocommit(ctx, m, func(v *view) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

func (m *Memory) GetItem(ctx context.Context, id string) (engine.InventoryItem, error) {
	return autocommit(ctx, m, func(v *view) (engine.InventoryItem, error) { return v.GetItem(ctx, id) })
}

func (m *Memory) ListItems(ctx context.Context) ([]engine.InventoryItem, error) {
	return autocommit(ctx, m, func(v *view) ([]engine.InventoryItem, error) { return v.ListItems(ctx) })
}

func (m *Memory) SaveItem(ctx context.Context, item engine.InventoryItem) error {
	return exec(ctx, m, func(v *view) error { return v.SaveItem(ctx, item) })
}

func (m *Memory) AdjustStock(ctx context.Context, id string, delta int64) (engine.InventoryItem, error) {
	return autocommit(ctx, m, func(v *view) (engine.InventoryItem, error) { return v.AdjustStock(ctx, id, delta) })
}

func (m *Memory) SetUnitCost(ctx context.Context, id string, cost decimal.Decimal) error {
	return exec(ctx, m, func(v *view) error { return v.SetUnitCost(ctx, id, cost) })
}

func (m *Memory) GetCustomer(ctx context.Context, id string) (engine.Customer, error) {
	return autocommit(ctx, m, func(v *view) (engine.Customer, error) { return v.GetCustomer(ctx, id) })
}

func (m *Memory) ListCustomers(ctx context.Context) ([]engine.Customer, error) {
	return autocommit(ctx, m, func(v *view) ([]engine.Customer, error) { return v.ListCustomers(ctx) })
}

func (m *Memory) SaveCustomer(ctx context.Context, c engine.Customer) error {
	return exec(ctx, m, func(v *view) error { return v.SaveCustomer(ctx, c) })
}

func (m *Memory) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (engine.Customer, error) {
	return autocommit(ctx, m, func(v *view) (engine.Customer, error) { return v.AdjustBalance(ctx, id, delta) })
}

func (m *Memory) GetOrder(ctx context.Context, id string) (engine.Order, error) {
	return autocommit(ctx, m, func(v *view) (engine.Order, error) { return v.GetOrder(ctx, id) })
}

func (m *Memory) ListOrders(ctx context.Context, filter engine.OrderFilter) ([]engine.Order, error) {
	return autocommit(ctx, m, func(v *view) ([]engine.Order, error) { return v.ListOrders(ctx, filter) })
}

func (m *Memory) SaveOrder(ctx context.Context, o engine.Order) error {
	return exec(ctx, m, func(v *view) error { return v.SaveOrder(ctx, o) })
}

func (m *Memory) DeleteOrder(ctx context.Context, id string) error {
	return exec(ctx, m, func(v *view) error { return v.DeleteOrder(ctx, id) })
}

func (m *Memory) GetPurchase(ctx context.Context, id string) (engine.Purchase, error) {
	return autocommit(ctx, m, func(v *view) (engine.Purchase, error) { return v.GetPurchase(ctx, id) })
}

func (m *Memory) ListPurchases(ctx context.Context) ([]engine.Purchase, error) {
	return autocommit(ctx, m, func(v *view) ([]engine.Purchase, error) { return v.ListPurchases(ctx) })
}

func (m *Memory) SavePurchase(ctx context.Context, p engine.Purchase) error {
	return exec(ctx, m, func(v *view) error { return v.SavePurchase(ctx, p) })
}

func (m *Memory) DeletePurchase(ctx context.Context, id string) error {
	return exec(ctx, m, func(v *view) error { return v.DeletePurchase(ctx, id) })
}

func (m *Memory) GetTransaction(ctx context.Context, id string) (engine.Transaction, error) {
	return autocommit(ctx, m, func(v *view) (engine.Transaction, error) { return v.GetTransaction(ctx, id) })
}

func (m *Memory) ListTransactions(ctx context.Context, filter engine.TransactionFilter) ([]engine.Transaction, error) {
	return autocommit(ctx, m, func(v *view) ([]engine.Transaction, error) { return v.ListTransactions(ctx, filter) })
}

func (m *Memory) InsertTransaction(ctx context.Context, tx engine.Transaction) error {
	return exec(ctx, m, func(v *view) error { return v.InsertTransaction(ctx, tx) })
}

func (m *Memory) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	return autocommit(ctx, m, func(v *view) (bool, error) { return v.DeleteTransaction(ctx, id) })
}

func (m *Memory) DeleteEntityTransaction(ctx context.Context, typ engine.TransactionType, entityID string) (bool, error) {
	return autocommit(ctx, m, func(v *view) (bool, error) { return v.DeleteEntityTransaction(ctx, typ, entityID) })
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

var _ engine.TxStore = (*TxMemory)(nil)

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against a private overlay and publishes it on success.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	v := newView(tm.Memory)
	if err := fn(v); err != nil {
		return err
	}
	return v.commit(ctx)
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type view struct {
	m      *Memory
	reads  map[rowKey]int64
	writes map[rowKey]any // nil value deletes
}

func newView(m *Memory) *view {
	return &view{m: m, reads: make(map[rowKey]int64), writes: make(map[rowKey]any)}
}

func (v *view) observe(k rowKey, r row) {
	if _, seen := v.reads[k]; !seen {
		v.reads[k] = r.version
	}
}

func (v *view) load(k rowKey) (any, int64, bool) {
	v.m.mu.RLock()
	r := v.m.current(k)
	v.m.mu.RUnlock()
	v.observe(k, r)

	if w, ok := v.writes[k]; ok {
		return w, r.version + 1, w != nil
	}
	return r.value, r.version, r.value != nil
}

func (v *view) put(k rowKey, value any) {
	v.m.mu.RLock()
	r := v.m.current(k)
	v.m.mu.RUnlock()
	v.observe(k, r)
	v.writes[k] = value
}

// scan returns the live rows of a table as this transaction sees them.
func (v *view) scan(t table) map[string]any {
	out := make(map[string]any)
	v.m.mu.RLock()
	for id, r := range v.m.tables[t] {
		if r.value != nil {
			out[id] = r.value
		}
	}
	v.m.mu.RUnlock()
	for k, w := range v.writes {
		if k.table != t {
			continue
		}
		if w == nil {
			delete(out, k.id)
		} else {
			out[k.id] = w
		}
	}
	return out
}

func (v *view) commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(v.writes) == 0 {
		return nil
	}

	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	for k, version := range v.reads {
		if v.m.current(k).version != version {
			return fmt.Errorf("%s %s: %w", k.table, k.id, engine.ErrConcurrencyConflict)
		}
	}
	if err := v.checkJournalPairing(); err != nil {
		return err
	}
	for k, w := range v.writes {
		cur := v.m.current(k)
		v.m.tables[k.table][k.id] = row{value: w, version: cur.version + 1}
	}
	return nil
}

// checkJournalPairing enforces one row per (type, entity) over the state
// that would result from this commit. Caller holds m.mu.
func (v *view) checkJournalPairing() error {
	touched := false
	for k := range v.writes {
		if k.table == tableTransactions {
			touched = true
			break
		}
	}
	if !touched {
		return nil
	}
	seen := make(map[string]string)
	check := func(id string, tx engine.Transaction) error {
		if tx.EntityID == "" {
			return nil
		}
		pk := string(tx.Type) + "/" + tx.EntityID
		if other, ok := seen[pk]; ok && other != id {
			return fmt.Errorf("%s row for %s: %w", tx.Type, tx.EntityID, engine.ErrDuplicateEntry)
		}
		seen[pk] = id
		return nil
	}
	for id, r := range v.m.tables[tableTransactions] {
		if _, overwritten := v.writes[rowKey{tableTransactions, id}]; overwritten || r.value == nil {
			continue
		}
		if err := check(id, r.value.(engine.Transaction)); err != nil {
			return err
		}
	}
	for k, w := range v.writes {
		if k.table != tableTransactions || w == nil {
			continue
		}
		if err := check(k.id, w.(engine.Transaction)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ITEMS
// =============================================================================

func (v *view) GetItem(_ context.Context, id string) (engine.InventoryItem, error) {
	val, version, ok := v.load(rowKey{tableItems, id})
	if !ok {
		return engine.InventoryItem{}, &engine.NotFoundError{Kind: "item", ID: id}
	}
	item := val.(engine.InventoryItem)
	item.Version = version
	return item, nil
}

func (v *view) ListItems(_ context.Context) ([]engine.InventoryItem, error) {
	items := make([]engine.InventoryItem, 0)
	for _, val := range v.scan(tableItems) {
		items = append(items, val.(engine.InventoryItem))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (v *view) SaveItem(_ context.Context, item engine.InventoryItem) error {
	v.put(rowKey{tableItems, item.ID}, item)
	return nil
}

func (v *view) AdjustStock(ctx context.Context, id string, delta int64) (engine.InventoryItem, error) {
	item, err := v.GetItem(ctx, id)
	if err != nil {
		return engine.InventoryItem{}, err
	}
	item.StockLevel += delta
	item.UpdatedAt = time.Now().UTC()
	item.Version++
	v.put(rowKey{tableItems, id}, item)
	return item, nil
}

func (v *view) SetUnitCost(ctx context.Context, id string, cost decimal.Decimal) error {
	item, err := v.GetItem(ctx, id)
	if err != nil {
		return err
	}
	item.UnitCost = cost
	item.UpdatedAt = time.Now().UTC()
	v.put(rowKey{tableItems, id}, item)
	return nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (v *view) GetCustomer(_ context.Context, id string) (engine.Customer, error) {
	val, version, ok := v.load(rowKey{tableCustomers, id})
	if !ok {
		return engine.Customer{}, &engine.NotFoundError{Kind: "customer", ID: id}
	}
	c := val.(engine.Customer)
	c.Version = version
	return c, nil
}

func (v *view) ListCustomers(_ context.Context) ([]engine.Customer, error) {
	customers := make([]engine.Customer, 0)
	for _, val := range v.scan(tableCustomers) {
		customers = append(customers, val.(engine.Customer))
	}
	sort.Slice(customers, func(i, j int) bool {
		if customers[i].Name != customers[j].Name {
			return customers[i].Name < customers[j].Name
		}
		return customers[i].ID < customers[j].ID
	})
	return customers, nil
}

func (v *view) SaveCustomer(_ context.Context, c engine.Customer) error {
	v.put(rowKey{tableCustomers, c.ID}, c)
	return nil
}

func (v *view) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (engine.Customer, error) {
	c, err := v.GetCustomer(ctx, id)
	if err != nil {
		return engine.Customer{}, err
	}
	c.Balance = c.Balance.Add(delta)
	c.UpdatedAt = time.Now().UTC()
	c.Version++
	v.put(rowKey{tableCustomers, id}, c)
	return c, nil
}

// =============================================================================
// ORDERS
// =============================================================================

func cloneOrder(o engine.Order) engine.Order {
	o.Lines = append([]engine.OrderLine(nil), o.Lines...)
	return o
}

func (v *view) GetOrder(_ context.Context, id string) (engine.Order, error) {
	val, _, ok := v.load(rowKey{tableOrders, id})
	if !ok {
		return engine.Order{}, &engine.NotFoundError{Kind: "order", ID: id}
	}
	return cloneOrder(val.(engine.Order)), nil
}

func (v *view) ListOrders(_ context.Context, filter engine.OrderFilter) ([]engine.Order, error) {
	orders := make([]engine.Order, 0)
	for id, val := range v.scan(tableOrders) {
		o := val.(engine.Order)
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.OpenOnly && o.PaymentStatus == engine.PaymentPaid {
			continue
		}
		v.load(rowKey{tableOrders, id})
		orders = append(orders, cloneOrder(o))
	}
	engine.SortOrdersFIFO(orders)
	return orders, nil
}

func (v *view) SaveOrder(_ context.Context, o engine.Order) error {
	v.put(rowKey{tableOrders, o.ID}, cloneOrder(o))
	return nil
}

func (v *view) DeleteOrder(ctx context.Context, id string) error {
	if _, err := v.GetOrder(ctx, id); err != nil {
		return err
	}
	v.put(rowKey{tableOrders, id}, nil)
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

func clonePurchase(p engine.Purchase) engine.Purchase {
	p.Lines = append([]engine.PurchaseLine(nil), p.Lines...)
	return p
}

func (v *view) GetPurchase(_ context.Context, id string) (engine.Purchase, error) {
	val, _, ok := v.load(rowKey{tablePurchases, id})
	if !ok {
		return engine.Purchase{}, &engine.NotFoundError{Kind: "purchase", ID: id}
	}
	return clonePurchase(val.(engine.Purchase)), nil
}

func (v *view) ListPurchases(_ context.Context) ([]engine.Purchase, error) {
	purchases := make([]engine.Purchase, 0)
	for _, val := range v.scan(tablePurchases) {
		purchases = append(purchases, clonePurchase(val.(engine.Purchase)))
	}
	sort.Slice(purchases, func(i, j int) bool {
		if !purchases[i].Date.Equal(purchases[j].Date) {
			return purchases[i].Date.Before(purchases[j].Date)
		}
		return purchases[i].ID < purchases[j].ID
	})
	return purchases, nil
}

func (v *view) SavePurchase(_ context.Context, p engine.Purchase) error {
	v.put(rowKey{tablePurchases, p.ID}, clonePurchase(p))
	return nil
}

func (v *view) DeletePurchase(ctx context.Context, id string) error {
	if _, err := v.GetPurchase(ctx, id); err != nil {
		return err
	}
	v.put(rowKey{tablePurchases, id}, nil)
	return nil
}

// =============================================================================
// JOURNAL
// =============================================================================

func (v *view) GetTransaction(_ context.Context, id string) (engine.Transaction, error) {
	val, _, ok := v.load(rowKey{tableTransactions, id})
	if !ok {
		return engine.Transaction{}, &engine.NotFoundError{Kind: "transaction", ID: id}
	}
	return val.(engine.Transaction), nil
}

func (v *view) ListTransactions(_ context.Context, filter engine.TransactionFilter) ([]engine.Transaction, error) {
	txs := make([]engine.Transaction, 0)
	for _, val := range v.scan(tableTransactions) {
		tx := val.(engine.Transaction)
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.EntityID != "" && tx.EntityID != filter.EntityID {
			continue
		}
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
	return txs, nil
}

func (v *view) InsertTransaction(_ context.Context, tx engine.Transaction) error {
	k := rowKey{tableTransactions, tx.ID}
	if _, _, exists := v.load(k); exists {
		return fmt.Errorf("transaction %s: %w", tx.ID, engine.ErrDuplicateEntry)
	}
	if tx.EntityID != "" {
		for id, val := range v.scan(tableTransactions) {
			other := val.(engine.Transaction)
			if id != tx.ID && other.Type == tx.Type && other.EntityID == tx.EntityID {
				return fmt.Errorf("%s row for %s: %w", tx.Type, tx.EntityID, engine.ErrDuplicateEntry)
			}
		}
	}
	v.put(k, tx)
	return nil
}

func (v *view) DeleteTransaction(_ context.Context, id string) (bool, error) {
	k := rowKey{tableTransactions, id}
	if _, _, exists := v.load(k); !exists {
		return false, nil
	}
	v.put(k, nil)
	return true, nil
}

func (v *view) DeleteEntityTransaction(ctx context.Context, typ engine.TransactionType, entityID string) (bool, error) {
	deleted := false
	for id, val := range v.scan(tableTransactions) {
		tx := val.(engine.Transaction)
		if tx.Type == typ && tx.EntityID == entityID {
			if _, err := v.DeleteTransaction(ctx, id); err != nil {
				return false, err
			}
			deleted = true
		}
	}
	return deleted, nil
}
