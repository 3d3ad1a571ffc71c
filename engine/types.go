/*
Package engine provides the stock-and-ledger reconciliation engine.

PURPOSE:
  Keeps three shared aggregates mutually consistent while purchases and
  orders are created, edited and deleted:
  - per-item stock level
  - per-customer balance
  - the transaction journal (one row per purchase, per paid order, per expense)

  It also distributes one customer payment across that customer's open
  orders, oldest first.

KEY CONCEPTS IN THIS FILE (types.go):
  - InventoryItem / Customer: the shared aggregates, written only via deltas
  - Order / Purchase: business documents whose side effects are reverted
    and reapplied on every edit
  - Transaction: a journal row, entity-paired for orders and purchases

DESIGN PRINCIPLES:
  1. Single choke point: all mutation goes through the managers in this package
  2. Precision: money is decimal.Decimal, quantities are int64
  3. Derived fields (Total, PaymentStatus) are recomputed, never trusted from input

SEE ALSO:
  - store.go: Persistence interfaces
  - order.go, purchase.go: Lifecycle managers
  - allocator.go: FIFO payment allocation
*/
package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG AND CUSTOMERS
// =============================================================================

// InventoryItem is a stocked product. StockLevel may go negative unless the
// engine is configured to reject it.
type InventoryItem struct {
	ID           string
	SKU          string
	Name         string
	StockLevel   int64
	ReorderLevel int64
	UnitCost     decimal.Decimal
	SellingPrice decimal.Decimal
	Version      int64
	UpdatedAt    time.Time
}

// NeedsReorder reports whether stock fell to or below the reorder level.
func (i InventoryItem) NeedsReorder() bool {
	return i.StockLevel <= i.ReorderLevel
}

// Customer carries a signed running balance. Negative means the customer owes money.
type Customer struct {
	ID        string
	Name      string
	Phone     string
	Balance   decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// =============================================================================
// ORDERS
// =============================================================================

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "Unpaid"
	PaymentPartial PaymentStatus = "Partial"
	PaymentPaid    PaymentStatus = "Paid"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryShipped   DeliveryStatus = "shipped"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryShipped, DeliveryDelivered:
		return true
	}
	return false
}

// OrderLine is one sold item. FreeQty units are not billed but still leave stock.
type OrderLine struct {
	ItemID       string
	Quantity     int64
	FreeQty      int64
	UnitPrice    decimal.Decimal // cost snapshot at sale time; zero takes the item's unit cost

	// SellingPrice is the billed price per unit. Zero means "use the catalog
	// price", so a line cannot be billed at zero; give units away through FreeQty.
	SellingPrice decimal.Decimal
}

// Subtotal is the billed amount of the line.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.SellingPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// Units is the physical quantity leaving stock.
func (l OrderLine) Units() int64 {
	return l.Quantity + l.FreeQty
}

type Order struct {
	ID             string
	CustomerID     string
	Date           time.Time
	Lines          []OrderLine
	Discount       decimal.Decimal
	Total          decimal.Decimal
	AmountPaid     decimal.Decimal
	PaymentStatus  PaymentStatus
	DeliveryStatus DeliveryStatus
	PaymentMode    string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderTotal returns Σ quantity×sellingPrice − discount.
func OrderTotal(lines []OrderLine, discount decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total.Sub(discount)
}

// ComputePaymentStatus derives the status from what was paid against the total.
func ComputePaymentStatus(amountPaid, total decimal.Decimal) PaymentStatus {
	switch {
	case amountPaid.GreaterThanOrEqual(total):
		return PaymentPaid
	case amountPaid.IsPositive():
		return PaymentPartial
	default:
		return PaymentUnpaid
	}
}

// Due is what is still owed on the order. Never negative.
func (o Order) Due() decimal.Decimal {
	due := o.Total.Sub(o.AmountPaid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// BalanceEffect is the delta this order contributes to its customer's balance.
func (o Order) BalanceEffect() decimal.Decimal {
	return o.AmountPaid.Sub(o.Total)
}

// StockDeltas returns the signed stock change per item caused by this order.
func (o Order) StockDeltas() map[string]int64 {
	deltas := make(map[string]int64, len(o.Lines))
	for _, l := range o.Lines {
		deltas[l.ItemID] -= l.Units()
	}
	return deltas
}

// ItemIDs returns the distinct items referenced by the order, sorted.
func (o Order) ItemIDs() []string {
	return sortedKeys(o.StockDeltas())
}

// =============================================================================
// PURCHASES
// =============================================================================

type PurchaseLine struct {
	ItemID    string
	Quantity  int64
	UnitPrice decimal.Decimal
}

type Purchase struct {
	ID           string
	SupplierName string
	Date         time.Time
	Lines        []PurchaseLine
	Total        decimal.Decimal
	PaymentMode  string
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PurchaseTotal returns Σ quantity×unitPrice.
func PurchaseTotal(lines []PurchaseLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
	}
	return total
}

// StockDeltas returns the signed stock change per item caused by this purchase.
func (p Purchase) StockDeltas() map[string]int64 {
	deltas := make(map[string]int64, len(p.Lines))
	for _, l := range p.Lines {
		deltas[l.ItemID] += l.Quantity
	}
	return deltas
}

func (p Purchase) ItemIDs() []string {
	return sortedKeys(p.StockDeltas())
}

// =============================================================================
// TRANSACTION JOURNAL
// =============================================================================

type TransactionType string

const (
	TxOrder    TransactionType = "order"
	TxPurchase TransactionType = "purchase"
	TxExpense  TransactionType = "expense"
)

// Transaction is a journal row. For order and purchase rows ID == EntityID;
// expense rows have their own ID and no EntityID.
type Transaction struct {
	ID          string
	Type        TransactionType
	EntityID    string
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	PaymentMode string
	Category    string
	CreatedAt   time.Time
}

// Allocation is the part of a customer payment applied to one order.
type Allocation struct {
	OrderID string
	Amount  decimal.Decimal
}

// =============================================================================
// HELPERS
// =============================================================================

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortOrdersFIFO orders by date ascending, ties by id ascending.
func SortOrdersFIFO(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].Date.Equal(orders[j].Date) {
			return orders[i].Date.Before(orders[j].Date)
		}
		return orders[i].ID < orders[j].ID
	})
}
