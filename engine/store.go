/*
store.go - Persistence interface for the engine

PURPOSE:
  Defines the boundary between the reconciliation logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Row CRUD for items, customers, orders, purchases and journal rows,
           plus the two atomic read-modify-write primitives (AdjustStock,
           AdjustBalance) the leaf ledgers are built on.
  TxStore: Store + WithTx for all-or-nothing multi-row commits.

UNIQUENESS:
  At most one journal row per (type, entity_id) when entity_id is set.
  InsertTransaction returns ErrDuplicateEntry on violation, and also when
  the row id already exists.

NOT FOUND:
  Get*, Adjust* and Delete{Order,Purchase} return *NotFoundError for
  missing rows.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - engine/store/memory.go: In-memory with optimistic row versions

SEE ALSO:
  - stock.go, balance.go, journal.go: Ledgers layered on Store
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS
// =============================================================================

// OrderFilter selects orders. Results are ordered by Date, then ID.
type OrderFilter struct {
	CustomerID string
	OpenOnly   bool // PaymentStatus != Paid
}

// TransactionFilter selects journal rows. Results are ordered by Date, then ID.
type TransactionFilter struct {
	Type     TransactionType
	EntityID string
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Items
	GetItem(ctx context.Context, id string) (InventoryItem, error)
	ListItems(ctx context.Context) ([]InventoryItem, error)
	SaveItem(ctx context.Context, item InventoryItem) error
	// AdjustStock adds delta to stock_level atomically and returns the updated row.
	AdjustStock(ctx context.Context, id string, delta int64) (InventoryItem, error)
	SetUnitCost(ctx context.Context, id string, cost decimal.Decimal) error

	// Customers
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	SaveCustomer(ctx context.Context, c Customer) error
	// AdjustBalance adds delta to balance atomically and returns the updated row.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (Customer, error)

	// Orders
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	SaveOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, id string) error

	// Purchases
	GetPurchase(ctx context.Context, id string) (Purchase, error)
	ListPurchases(ctx context.Context) ([]Purchase, error)
	SavePurchase(ctx context.Context, p Purchase) error
	DeletePurchase(ctx context.Context, id string) error

	// Journal
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	InsertTransaction(ctx context.Context, tx Transaction) error
	// DeleteTransaction removes a row by id. Reports whether a row existed.
	DeleteTransaction(ctx context.Context, id string) (bool, error)
	// DeleteEntityTransaction removes the row paired with (type, entityID).
	DeleteEntityTransaction(ctx context.Context, typ TransactionType, entityID string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, nothing fn wrote is visible afterwards.
	// If fn returns nil, every write is committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
