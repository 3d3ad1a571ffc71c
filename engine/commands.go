/*
commands.go - Explicit command types, one per operation

PURPOSE:
  Each command enumerates exactly the fields an operation accepts. Update
  commands use nil to mean "keep the committed value"; any non-nil field
  simply becomes part of the input to revert-then-reapply.

VALIDATION:
  Validate() runs before any ledger mutation and returns *ValidationError.
  Checks that need stored state (item exists, customer exists) happen
  inside the operation and surface as *NotFoundError.
*/
package engine

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG
// =============================================================================

type CreateItemCommand struct {
	ID           string // optional, generated when empty
	SKU          string
	Name         string
	StockLevel   int64
	ReorderLevel int64
	UnitCost     decimal.Decimal
	SellingPrice decimal.Decimal
}

func (c CreateItemCommand) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}
	if c.ReorderLevel < 0 {
		return invalid("reorderLevel", "must not be negative")
	}
	if c.UnitCost.IsNegative() {
		return invalid("unitCost", "must not be negative")
	}
	if c.SellingPrice.IsNegative() {
		return invalid("sellingPrice", "must not be negative")
	}
	return nil
}

type CreateCustomerCommand struct {
	ID             string // optional, generated when empty
	Name           string
	Phone          string
	OpeningBalance decimal.Decimal
}

func (c CreateCustomerCommand) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

type CreatePurchaseCommand struct {
	SupplierName string
	Date         time.Time // zero means now
	Lines        []PurchaseLine
	PaymentMode  string
	Notes        string
}

func (c CreatePurchaseCommand) Validate() error {
	if strings.TrimSpace(c.SupplierName) == "" {
		return invalid("supplierName", "is required")
	}
	return validatePurchaseLines(c.Lines)
}

type UpdatePurchaseCommand struct {
	ID           string
	SupplierName *string
	Date         *time.Time
	Lines        []PurchaseLine // nil keeps the committed lines
	PaymentMode  *string
	Notes        *string
}

func (c UpdatePurchaseCommand) Validate() error {
	if c.ID == "" {
		return invalid("id", "is required")
	}
	if c.SupplierName != nil && strings.TrimSpace(*c.SupplierName) == "" {
		return invalid("supplierName", "is required")
	}
	if c.Date != nil && c.Date.IsZero() {
		return invalid("date", "must be set when given")
	}
	if c.Lines != nil {
		return validatePurchaseLines(c.Lines)
	}
	return nil
}

func validatePurchaseLines(lines []PurchaseLine) error {
	if len(lines) == 0 {
		return invalid("lines", "at least one line item is required")
	}
	for i, l := range lines {
		if l.ItemID == "" {
			return invalid("lines", "line %d: item is required", i+1)
		}
		if l.Quantity <= 0 {
			return invalid("lines", "line %d: quantity must be positive", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return invalid("lines", "line %d: unit price must not be negative", i+1)
		}
	}
	return nil
}

// =============================================================================
// ORDERS
// =============================================================================

type CreateOrderCommand struct {
	CustomerID     string
	Date           time.Time // zero means now
	Lines          []OrderLine
	Discount       decimal.Decimal
	AmountPaid     decimal.Decimal
	PaymentMode    string
	DeliveryStatus DeliveryStatus // empty means pending
	Notes          string
}

func (c CreateOrderCommand) Validate() error {
	if c.CustomerID == "" {
		return invalid("customerId", "is required")
	}
	if c.DeliveryStatus != "" && !c.DeliveryStatus.Valid() {
		return invalid("deliveryStatus", "unknown status %q", c.DeliveryStatus)
	}
	return validateOrderMoney(c.Discount, c.AmountPaid)
}

type UpdateOrderCommand struct {
	ID             string
	CustomerID     *string
	Date           *time.Time
	Lines          []OrderLine // nil keeps the committed lines
	Discount       *decimal.Decimal
	AmountPaid     *decimal.Decimal
	PaymentMode    *string
	DeliveryStatus *DeliveryStatus
	Notes          *string
}

func (c UpdateOrderCommand) Validate() error {
	if c.ID == "" {
		return invalid("id", "is required")
	}
	if c.CustomerID != nil && *c.CustomerID == "" {
		return invalid("customerId", "is required")
	}
	if c.Date != nil && c.Date.IsZero() {
		return invalid("date", "must be set when given")
	}
	if c.DeliveryStatus != nil && !c.DeliveryStatus.Valid() {
		return invalid("deliveryStatus", "unknown status %q", *c.DeliveryStatus)
	}
	if c.Discount != nil && c.Discount.IsNegative() {
		return invalid("discount", "must not be negative")
	}
	if c.AmountPaid != nil && c.AmountPaid.IsNegative() {
		return invalid("amountPaid", "must not be negative")
	}
	return nil
}

func validateOrderMoney(discount, amountPaid decimal.Decimal) error {
	if discount.IsNegative() {
		return invalid("discount", "must not be negative")
	}
	if amountPaid.IsNegative() {
		return invalid("amountPaid", "must not be negative")
	}
	return nil
}

// normalizeOrderLines drops blank rows (no item) and validates the rest.
func normalizeOrderLines(lines []OrderLine) ([]OrderLine, error) {
	out := make([]OrderLine, 0, len(lines))
	for i, l := range lines {
		if l.ItemID == "" {
			continue
		}
		if l.Quantity <= 0 {
			return nil, invalid("lines", "line %d: quantity must be positive", i+1)
		}
		if l.FreeQty < 0 {
			return nil, invalid("lines", "line %d: free quantity must not be negative", i+1)
		}
		if l.SellingPrice.IsNegative() || l.UnitPrice.IsNegative() {
			return nil, invalid("lines", "line %d: prices must not be negative", i+1)
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, invalid("lines", "at least one line with an item and a positive quantity is required")
	}
	return out, nil
}

// =============================================================================
// PAYMENTS AND EXPENSES
// =============================================================================

type RecordPaymentCommand struct {
	OrderID     string
	Amount      decimal.Decimal
	PaymentMode string
	Date        time.Time // zero means now
}

func (c RecordPaymentCommand) Validate() error {
	if c.OrderID == "" {
		return invalid("orderId", "is required")
	}
	if !c.Amount.IsPositive() {
		return invalid("amount", "must be positive")
	}
	return nil
}

type AllocatePaymentCommand struct {
	CustomerID  string
	Amount      decimal.Decimal
	PaymentMode string
	Date        time.Time // zero means now
}

func (c AllocatePaymentCommand) Validate() error {
	if c.CustomerID == "" {
		return invalid("customerId", "is required")
	}
	if !c.Amount.IsPositive() {
		return invalid("amount", "must be positive")
	}
	return nil
}

type RecordExpenseCommand struct {
	Date        time.Time // zero means now
	Amount      decimal.Decimal
	Description string
	PaymentMode string
	Category    string
}

func (c RecordExpenseCommand) Validate() error {
	if !c.Amount.IsPositive() {
		return invalid("amount", "must be positive")
	}
	if strings.TrimSpace(c.Description) == "" {
		return invalid("description", "is required")
	}
	return nil
}
