/*
Package sqlite provides a SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Persists items, customers, orders, purchases and the transaction journal.
  Queries go through sqlx; the same statements run against the database
  handle or an open transaction.

KEY TABLES:
  items:        stock_level, unit_cost, version (bumped on every write)
  customers:    balance, version
  orders:       header columns + lines_json
  purchases:    header columns + lines_json
  transactions: the journal

INDEXES:
  - idx_transactions_entity: UNIQUE (type, entity_id) for paired rows.
    Expense rows carry an empty entity_id and are excluded.
  - idx_orders_customer_open: FIFO lookup of a customer's open orders

STORAGE FORMATS:
  Money is TEXT (decimal string, exact). Times are fixed-width UTC strings
  so lexical order equals chronological order.

CONCURRENCY:
  The pool is capped at one connection. SQLite serializes writers anyway;
  one connection also keeps ":memory:" databases shared. Everything inside
  WithTx must use the Store it is handed, never the parent.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  eng := engine.New(store)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/trade-ledger/engine"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements engine.TxStore using SQLite.
type Store struct {
	queries
	db *sqlx.DB
}

var _ engine.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{ext: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		stock_level INTEGER NOT NULL DEFAULT 0,
		reorder_level INTEGER NOT NULL DEFAULT 0,
		unit_cost TEXT NOT NULL DEFAULT '0',
		selling_price TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		date TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		discount TEXT NOT NULL DEFAULT '0',
		total TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		payment_status TEXT NOT NULL,
		delivery_status TEXT NOT NULL,
		payment_mode TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- FIFO allocation reads a customer's open orders oldest first
	CREATE INDEX IF NOT EXISTS idx_orders_customer_open
		ON orders(customer_id, payment_status, date, id);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		supplier_name TEXT NOT NULL,
		date TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_mode TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		entity_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		payment_mode TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- At most one journal row per order / purchase
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_entity
		ON transactions(type, entity_id) WHERE entity_id <> '';

	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tables := []string{"transactions", "orders", "purchases", "customers", "items"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// =============================================================================
// QUERIES
// =============================================================================

// queries runs every statement against either *sqlx.DB or *sqlx.Tx.
type queries struct {
	ext sqlx.ExtContext
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &engine.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mustAffect(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &engine.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// =============================================================================
// ITEMS
// =============================================================================

type itemRow struct {
	ID           string          `db:"id"`
	SKU          string          `db:"sku"`
	Name         string          `db:"name"`
	StockLevel   int64           `db:"stock_level"`
	ReorderLevel int64           `db:"reorder_level"`
	UnitCost     decimal.Decimal `db:"unit_cost"`
	SellingPrice decimal.Decimal `db:"selling_price"`
	Version      int64           `db:"version"`
	UpdatedAt    string          `db:"updated_at"`
}

func (r itemRow) toItem() engine.InventoryItem {
	return engine.InventoryItem{
		ID:           r.ID,
		SKU:          r.SKU,
		Name:         r.Name,
		StockLevel:   r.StockLevel,
		ReorderLevel: r.ReorderLevel,
		UnitCost:     r.UnitCost,
		SellingPrice: r.SellingPrice,
		Version:      r.Version,
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

const itemColumns = `id, sku, name, stock_level, reorder_level, unit_cost, selling_price, version, updated_at`

func (q queries) GetItem(ctx context.Context, id string) (engine.InventoryItem, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if err != nil {
		return engine.InventoryItem{}, notFound(err, "item", id)
	}
	return row.toItem(), nil
}

func (q queries) ListItems(ctx context.Context) ([]engine.InventoryItem, error) {
	var rows []itemRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+itemColumns+` FROM items ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	items := make([]engine.InventoryItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, nil
}

func (q queries) SaveItem(ctx context.Context, item engine.InventoryItem) error {
	query := `
		INSERT INTO items (id, sku, name, stock_level, reorder_level, unit_cost, selling_price, version, updated_at)
		VALUES (:id, :sku, :name, :stock_level, :reorder_level, :unit_cost, :selling_price, 1, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			stock_level = excluded.stock_level,
			reorder_level = excluded.reorder_level,
			unit_cost = excluded.unit_cost,
			selling_price = excluded.selling_price,
			version = items.version + 1,
			updated_at = excluded.updated_at
	`
	_, err := sqlx.NamedExecContext(ctx, q.ext, query, itemRow{
		ID:           item.ID,
		SKU:          item.SKU,
		Name:         item.Name,
		StockLevel:   item.StockLevel,
		ReorderLevel: item.ReorderLevel,
		UnitCost:     item.UnitCost,
		SellingPrice: item.SellingPrice,
		UpdatedAt:    formatTime(nowOr(item.UpdatedAt)),
	})
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

func (q queries) AdjustStock(ctx context.Context, id string, delta int64) (engine.InventoryItem, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE items SET stock_level = stock_level + ?, version = version + 1, updated_at = ? WHERE id = ?`,
		delta, formatTime(time.Now()), id)
	if err != nil {
		return engine.InventoryItem{}, fmt.Errorf("failed to adjust stock: %w", err)
	}
	if err := mustAffect(res, "item", id); err != nil {
		return engine.InventoryItem{}, err
	}
	return q.GetItem(ctx, id)
}

func (q queries) SetUnitCost(ctx context.Context, id string, cost decimal.Decimal) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE items SET unit_cost = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		cost, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set unit cost: %w", err)
	}
	return mustAffect(res, "item", id)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type customerRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Phone     string          `db:"phone"`
	Balance   decimal.Decimal `db:"balance"`
	Version   int64           `db:"version"`
	UpdatedAt string          `db:"updated_at"`
}

func (r customerRow) toCustomer() engine.Customer {
	return engine.Customer{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     r.Phone,
		Balance:   r.Balance,
		Version:   r.Version,
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

const customerColumns = `id, name, phone, balance, version, updated_at`

func (q queries) GetCustomer(ctx context.Context, id string) (engine.Customer, error) {
	var row customerRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	if err != nil {
		return engine.Customer{}, notFound(err, "customer", id)
	}
	return row.toCustomer(), nil
}

func (q queries) ListCustomers(ctx context.Context) ([]engine.Customer, error) {
	var rows []customerRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+customerColumns+` FROM customers ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	customers := make([]engine.Customer, 0, len(rows))
	for _, r := range rows {
		customers = append(customers, r.toCustomer())
	}
	return customers, nil
}

func (q queries) SaveCustomer(ctx context.Context, c engine.Customer) error {
	query := `
		INSERT INTO customers (id, name, phone, balance, version, updated_at)
		VALUES (:id, :name, :phone, :balance, 1, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			balance = excluded.balance,
			version = customers.version + 1,
			updated_at = excluded.updated_at
	`
	_, err := sqlx.NamedExecContext(ctx, q.ext, query, customerRow{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Balance:   c.Balance,
		UpdatedAt: formatTime(nowOr(c.UpdatedAt)),
	})
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// AdjustBalance reads, adds and writes back inside the caller's statement
// scope. Balances are TEXT, so the sum is computed in Go to stay exact.
func (q queries) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (engine.Customer, error) {
	c, err := q.GetCustomer(ctx, id)
	if err != nil {
		return engine.Customer{}, err
	}
	next := c.Balance.Add(delta)
	res, err := q.ext.ExecContext(ctx,
		`UPDATE customers SET balance = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		next, formatTime(time.Now()), id, c.Version)
	if err != nil {
		return engine.Customer{}, fmt.Errorf("failed to adjust balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return engine.Customer{}, err
	}
	if n == 0 {
		return engine.Customer{}, fmt.Errorf("customer %s: %w", id, engine.ErrConcurrencyConflict)
	}
	return q.GetCustomer(ctx, id)
}

// =============================================================================
// ORDERS
// =============================================================================

type orderRow struct {
	ID             string          `db:"id"`
	CustomerID     string          `db:"customer_id"`
	Date           string          `db:"date"`
	LinesJSON      string          `db:"lines_json"`
	Discount       decimal.Decimal `db:"discount"`
	Total          decimal.Decimal `db:"total"`
	AmountPaid     decimal.Decimal `db:"amount_paid"`
	PaymentStatus  string          `db:"payment_status"`
	DeliveryStatus string          `db:"delivery_status"`
	PaymentMode    string          `db:"payment_mode"`
	Notes          string          `db:"notes"`
	CreatedAt      string          `db:"created_at"`
	UpdatedAt      string          `db:"updated_at"`
}

func (r orderRow) toOrder() (engine.Order, error) {
	o := engine.Order{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		Date:           parseTime(r.Date),
		Discount:       r.Discount,
		Total:          r.Total,
		AmountPaid:     r.AmountPaid,
		PaymentStatus:  engine.PaymentStatus(r.PaymentStatus),
		DeliveryStatus: engine.DeliveryStatus(r.DeliveryStatus),
		PaymentMode:    r.PaymentMode,
		Notes:          r.Notes,
		CreatedAt:      parseTime(r.CreatedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.LinesJSON), &o.Lines); err != nil {
		return engine.Order{}, fmt.Errorf("order %s: failed to decode lines: %w", r.ID, err)
	}
	return o, nil
}

const orderColumns = `id, customer_id, date, lines_json, discount, total, amount_paid,
	payment_status, delivery_status, payment_mode, notes, created_at, updated_at`

func (q queries) GetOrder(ctx context.Context, id string) (engine.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if err != nil {
		return engine.Order{}, notFound(err, "order", id)
	}
	return row.toOrder()
}

func (q queries) ListOrders(ctx context.Context, filter engine.OrderFilter) ([]engine.Order, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.CustomerID != "" {
		conditions = append(conditions, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.OpenOnly {
		conditions = append(conditions, "payment_status <> ?")
		args = append(args, string(engine.PaymentPaid))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date, id"

	var rows []orderRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	orders := make([]engine.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (q queries) SaveOrder(ctx context.Context, o engine.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode order lines: %w", err)
	}
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (:id, :customer_id, :date, :lines_json, :discount, :total, :amount_paid,
			:payment_status, :delivery_status, :payment_mode, :notes, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			date = excluded.date,
			lines_json = excluded.lines_json,
			discount = excluded.discount,
			total = excluded.total,
			amount_paid = excluded.amount_paid,
			payment_status = excluded.payment_status,
			delivery_status = excluded.delivery_status,
			payment_mode = excluded.payment_mode,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`
	_, err = sqlx.NamedExecContext(ctx, q.ext, query, orderRow{
		ID:             o.ID,
		CustomerID:     o.CustomerID,
		Date:           formatTime(o.Date),
		LinesJSON:      string(lines),
		Discount:       o.Discount,
		Total:          o.Total,
		AmountPaid:     o.AmountPaid,
		PaymentStatus:  string(o.PaymentStatus),
		DeliveryStatus: string(o.DeliveryStatus),
		PaymentMode:    o.PaymentMode,
		Notes:          o.Notes,
		CreatedAt:      formatTime(nowOr(o.CreatedAt)),
		UpdatedAt:      formatTime(nowOr(o.UpdatedAt)),
	})
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (q queries) DeleteOrder(ctx context.Context, id string) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return mustAffect(res, "order", id)
}

// =============================================================================
// PURCHASES
// =============================================================================

type purchaseRow struct {
	ID           string          `db:"id"`
	SupplierName string          `db:"supplier_name"`
	Date         string          `db:"date"`
	LinesJSON    string          `db:"lines_json"`
	Total        decimal.Decimal `db:"total"`
	PaymentMode  string          `db:"payment_mode"`
	Notes        string          `db:"notes"`
	CreatedAt    string          `db:"created_at"`
	UpdatedAt    string          `db:"updated_at"`
}

func (r purchaseRow) toPurchase() (engine.Purchase, error) {
	p := engine.Purchase{
		ID:           r.ID,
		SupplierName: r.SupplierName,
		Date:         parseTime(r.Date),
		Total:        r.Total,
		PaymentMode:  r.PaymentMode,
		Notes:        r.Notes,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.LinesJSON), &p.Lines); err != nil {
		return engine.Purchase{}, fmt.Errorf("purchase %s: failed to decode lines: %w", r.ID, err)
	}
	return p, nil
}

const purchaseColumns = `id, supplier_name, date, lines_json, total, payment_mode, notes, created_at, updated_at`

func (q queries) GetPurchase(ctx context.Context, id string) (engine.Purchase, error) {
	var row purchaseRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	if err != nil {
		return engine.Purchase{}, notFound(err, "purchase", id)
	}
	return row.toPurchase()
}

func (q queries) ListPurchases(ctx context.Context) ([]engine.Purchase, error) {
	var rows []purchaseRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+purchaseColumns+` FROM purchases ORDER BY date, id`); err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	purchases := make([]engine.Purchase, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPurchase()
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

func (q queries) SavePurchase(ctx context.Context, p engine.Purchase) error {
	lines, err := json.Marshal(p.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode purchase lines: %w", err)
	}
	query := `
		INSERT INTO purchases (` + purchaseColumns + `)
		VALUES (:id, :supplier_name, :date, :lines_json, :total, :payment_mode, :notes, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			supplier_name = excluded.supplier_name,
			date = excluded.date,
			lines_json = excluded.lines_json,
			total = excluded.total,
			payment_mode = excluded.payment_mode,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`
	_, err = sqlx.NamedExecContext(ctx, q.ext, query, purchaseRow{
		ID:           p.ID,
		SupplierName: p.SupplierName,
		Date:         formatTime(p.Date),
		LinesJSON:    string(lines),
		Total:        p.Total,
		PaymentMode:  p.PaymentMode,
		Notes:        p.Notes,
		CreatedAt:    formatTime(nowOr(p.CreatedAt)),
		UpdatedAt:    formatTime(nowOr(p.UpdatedAt)),
	})
	if err != nil {
		return fmt.Errorf("failed to save purchase: %w", err)
	}
	return nil
}

func (q queries) DeletePurchase(ctx context.Context, id string) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM purchases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete purchase: %w", err)
	}
	return mustAffect(res, "purchase", id)
}

// =============================================================================
// JOURNAL
// =============================================================================

type transactionRow struct {
	ID          string          `db:"id"`
	Type        string          `db:"type"`
	EntityID    string          `db:"entity_id"`
	Date        string          `db:"date"`
	Amount      decimal.Decimal `db:"amount"`
	Description string          `db:"description"`
	PaymentMode string          `db:"payment_mode"`
	Category    string          `db:"category"`
	CreatedAt   string          `db:"created_at"`
}

func (r transactionRow) toTransaction() engine.Transaction {
	return engine.Transaction{
		ID:          r.ID,
		Type:        engine.TransactionType(r.Type),
		EntityID:    r.EntityID,
		Date:        parseTime(r.Date),
		Amount:      r.Amount,
		Description: r.Description,
		PaymentMode: r.PaymentMode,
		Category:    r.Category,
		CreatedAt:   parseTime(r.CreatedAt),
	}
}

const transactionColumns = `id, type, entity_id, date, amount, description, payment_mode, category, created_at`

func (q queries) GetTransaction(ctx context.Context, id string) (engine.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return engine.Transaction{}, notFound(err, "transaction", id)
	}
	return row.toTransaction(), nil
}

func (q queries) ListTransactions(ctx context.Context, filter engine.TransactionFilter) ([]engine.Transaction, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date, id"

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	txs := make([]engine.Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, r.toTransaction())
	}
	return txs, nil
}

func (q queries) InsertTransaction(ctx context.Context, tx engine.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (:id, :type, :entity_id, :date, :amount, :description, :payment_mode, :category, :created_at)
	`
	_, err := sqlx.NamedExecContext(ctx, q.ext, query, transactionRow{
		ID:          tx.ID,
		Type:        string(tx.Type),
		EntityID:    tx.EntityID,
		Date:        formatTime(tx.Date),
		Amount:      tx.Amount,
		Description: tx.Description,
		PaymentMode: tx.PaymentMode,
		Category:    tx.Category,
		CreatedAt:   formatTime(nowOr(tx.CreatedAt)),
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s (%s %s): %w", tx.ID, tx.Type, tx.EntityID, engine.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (q queries) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q queries) DeleteEntityTransaction(ctx context.Context, typ engine.TransactionType, entityID string) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`DELETE FROM transactions WHERE type = ? AND entity_id = ?`, string(typ), entityID)
	if err != nil {
		return false, fmt.Errorf("failed to delete journal row: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
