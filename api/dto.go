/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Money fields are decimal.Decimal: rendered as JSON strings ("12.50"),
  accepted as strings or numbers. Dates are accepted as YYYY-MM-DD or
  RFC 3339 and rendered as RFC 3339.

VALIDATION:
  Validation is done by the engine commands, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/commands.go: The commands requests are converted into
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/trade-ledger/engine"
)

// =============================================================================
// ITEMS AND CUSTOMERS
// =============================================================================

type ItemDTO struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	StockLevel   int64           `json:"stock_level"`
	ReorderLevel int64           `json:"reorder_level"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	NeedsReorder bool            `json:"needs_reorder"`
	UpdatedAt    string          `json:"updated_at,omitempty"`
}

type CreateItemRequest struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	StockLevel   int64           `json:"stock_level"`
	ReorderLevel int64           `json:"reorder_level"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type CustomerDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

type CreateCustomerRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// =============================================================================
// ORDERS
// =============================================================================

type OrderLineDTO struct {
	ItemID       string          `json:"item_id"`
	Quantity     int64           `json:"quantity"`
	FreeQty      int64           `json:"free_qty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type OrderDTO struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id"`
	Date           string          `json:"date"`
	Lines          []OrderLineDTO  `json:"lines"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Due            decimal.Decimal `json:"due"`
	PaymentStatus  string          `json:"payment_status"`
	DeliveryStatus string          `json:"delivery_status"`
	PaymentMode    string          `json:"payment_mode,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

type CreateOrderRequest struct {
	CustomerID     string          `json:"customer_id"`
	Date           string          `json:"date"`
	Lines          []OrderLineDTO  `json:"lines"`
	Discount       decimal.Decimal `json:"discount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	PaymentMode    string          `json:"payment_mode"`
	DeliveryStatus string          `json:"delivery_status"`
	Notes          string          `json:"notes"`
}

// UpdateOrderRequest leaves a field unchanged when it is absent.
type UpdateOrderRequest struct {
	CustomerID     *string          `json:"customer_id"`
	Date           *string          `json:"date"`
	Lines          []OrderLineDTO   `json:"lines"`
	Discount       *decimal.Decimal `json:"discount"`
	AmountPaid     *decimal.Decimal `json:"amount_paid"`
	PaymentMode    *string          `json:"payment_mode"`
	DeliveryStatus *string          `json:"delivery_status"`
	Notes          *string          `json:"notes"`
}

type OrderResultDTO struct {
	Order    OrderDTO    `json:"order"`
	Customer CustomerDTO `json:"customer"`
	Items    []ItemDTO   `json:"items"`
}

// PaymentRequest is the body of both payment endpoints.
type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentMode string          `json:"payment_mode"`
	Date        string          `json:"date"`
}

type AllocationDTO struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type AllocationResultDTO struct {
	CustomerID  string          `json:"customer_id"`
	Allocations []AllocationDTO `json:"allocations"`
	Applied     decimal.Decimal `json:"applied"`
	Credit      decimal.Decimal `json:"credit"`
	Customer    CustomerDTO     `json:"customer"`
	Orders      []OrderDTO      `json:"orders"`
}

// =============================================================================
// PURCHASES
// =============================================================================

type PurchaseLineDTO struct {
	ItemID    string          `json:"item_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PurchaseDTO struct {
	ID           string            `json:"id"`
	SupplierName string            `json:"supplier_name"`
	Date         string            `json:"date"`
	Lines        []PurchaseLineDTO `json:"lines"`
	Total        decimal.Decimal   `json:"total"`
	PaymentMode  string            `json:"payment_mode,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
	UpdatedAt    string            `json:"updated_at,omitempty"`
}

type CreatePurchaseRequest struct {
	SupplierName string            `json:"supplier_name"`
	Date         string            `json:"date"`
	Lines        []PurchaseLineDTO `json:"lines"`
	PaymentMode  string            `json:"payment_mode"`
	Notes        string            `json:"notes"`
}

type UpdatePurchaseRequest struct {
	SupplierName *string           `json:"supplier_name"`
	Date         *string           `json:"date"`
	Lines        []PurchaseLineDTO `json:"lines"`
	PaymentMode  *string           `json:"payment_mode"`
	Notes        *string           `json:"notes"`
}

type PurchaseResultDTO struct {
	Purchase PurchaseDTO `json:"purchase"`
	Items    []ItemDTO   `json:"items"`
}

// =============================================================================
// JOURNAL
// =============================================================================

type TransactionDTO struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	EntityID    string          `json:"entity_id,omitempty"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	PaymentMode string          `json:"payment_mode,omitempty"`
	Category    string          `json:"category,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

type ExpenseRequest struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	PaymentMode string          `json:"payment_mode"`
	Category    string          `json:"category"`
}

type AuditIssueDTO struct {
	Kind     string          `json:"kind"`
	Type     string          `json:"type"`
	EntityID string          `json:"entity_id"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Message  string          `json:"message"`
}

type AuditReportDTO struct {
	OK        bool            `json:"ok"`
	Purchases int             `json:"purchases"`
	Orders    int             `json:"orders"`
	Rows      int             `json:"rows"`
	Issues    []AuditIssueDTO `json:"issues"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty yields the zero time,
// which the engine reads as "now".
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t.UTC(), nil
}

func toItemDTO(i engine.InventoryItem) ItemDTO {
	return ItemDTO{
		ID:           i.ID,
		SKU:          i.SKU,
		Name:         i.Name,
		StockLevel:   i.StockLevel,
		ReorderLevel: i.ReorderLevel,
		UnitCost:     i.UnitCost,
		SellingPrice: i.SellingPrice,
		NeedsReorder: i.NeedsReorder(),
		UpdatedAt:    formatTime(i.UpdatedAt),
	}
}

func toItemDTOs(items []engine.InventoryItem) []ItemDTO {
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	return dtos
}

func toCustomerDTO(c engine.Customer) CustomerDTO {
	return CustomerDTO{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Balance:   c.Balance,
		UpdatedAt: formatTime(c.UpdatedAt),
	}
}

func toOrderDTO(o engine.Order) OrderDTO {
	lines := make([]OrderLineDTO, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = OrderLineDTO{
			ItemID:       l.ItemID,
			Quantity:     l.Quantity,
			FreeQty:      l.FreeQty,
			UnitPrice:    l.UnitPrice,
			SellingPrice: l.SellingPrice,
		}
	}
	return OrderDTO{
		ID:             o.ID,
		CustomerID:     o.CustomerID,
		Date:           formatTime(o.Date),
		Lines:          lines,
		Discount:       o.Discount,
		Total:          o.Total,
		AmountPaid:     o.AmountPaid,
		Due:            o.Due(),
		PaymentStatus:  string(o.PaymentStatus),
		DeliveryStatus: string(o.DeliveryStatus),
		PaymentMode:    o.PaymentMode,
		Notes:          o.Notes,
		CreatedAt:      formatTime(o.CreatedAt),
		UpdatedAt:      formatTime(o.UpdatedAt),
	}
}

func toOrderDTOs(orders []engine.Order) []OrderDTO {
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	return dtos
}

func toOrderResultDTO(res engine.OrderResult) OrderResultDTO {
	return OrderResultDTO{
		Order:    toOrderDTO(res.Order),
		Customer: toCustomerDTO(res.Customer),
		Items:    toItemDTOs(res.Items),
	}
}

func toAllocationResultDTO(res engine.AllocationResult) AllocationResultDTO {
	allocs := make([]AllocationDTO, len(res.Allocations))
	for i, a := range res.Allocations {
		allocs[i] = AllocationDTO{OrderID: a.OrderID, Amount: a.Amount}
	}
	return AllocationResultDTO{
		CustomerID:  res.CustomerID,
		Allocations: allocs,
		Applied:     res.Applied(),
		Credit:      res.Credit,
		Customer:    toCustomerDTO(res.Customer),
		Orders:      toOrderDTOs(res.Orders),
	}
}

func toOrderLines(dtos []OrderLineDTO) []engine.OrderLine {
	if dtos == nil {
		return nil
	}
	lines := make([]engine.OrderLine, len(dtos))
	for i, d := range dtos {
		lines[i] = engine.OrderLine{
			ItemID:       d.ItemID,
			Quantity:     d.Quantity,
			FreeQty:      d.FreeQty,
			UnitPrice:    d.UnitPrice,
			SellingPrice: d.SellingPrice,
		}
	}
	return lines
}

func toPurchaseDTO(p engine.Purchase) PurchaseDTO {
	lines := make([]PurchaseLineDTO, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = PurchaseLineDTO{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return PurchaseDTO{
		ID:           p.ID,
		SupplierName: p.SupplierName,
		Date:         formatTime(p.Date),
		Lines:        lines,
		Total:        p.Total,
		PaymentMode:  p.PaymentMode,
		Notes:        p.Notes,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}

func toPurchaseResultDTO(res engine.PurchaseResult) PurchaseResultDTO {
	return PurchaseResultDTO{
		Purchase: toPurchaseDTO(res.Purchase),
		Items:    toItemDTOs(res.Items),
	}
}

func toPurchaseLines(dtos []PurchaseLineDTO) []engine.PurchaseLine {
	if dtos == nil {
		return nil
	}
	lines := make([]engine.PurchaseLine, len(dtos))
	for i, d := range dtos {
		lines[i] = engine.PurchaseLine{ItemID: d.ItemID, Quantity: d.Quantity, UnitPrice: d.UnitPrice}
	}
	return lines
}

func toTransactionDTO(tx engine.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          tx.ID,
		Type:        string(tx.Type),
		EntityID:    tx.EntityID,
		Date:        formatTime(tx.Date),
		Amount:      tx.Amount,
		Description: tx.Description,
		PaymentMode: tx.PaymentMode,
		Category:    tx.Category,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
}

func toAuditReportDTO(r engine.AuditReport) AuditReportDTO {
	issues := make([]AuditIssueDTO, len(r.Issues))
	for i, is := range r.Issues {
		issues[i] = AuditIssueDTO{
			Kind:     string(is.Kind),
			Type:     string(is.Type),
			EntityID: is.EntityID,
			Expected: is.Expected,
			Actual:   is.Actual,
			Message:  is.Message,
		}
	}
	return AuditReportDTO{
		OK:        r.OK(),
		Purchases: r.Purchases,
		Orders:    r.Orders,
		Rows:      r.Rows,
		Issues:    issues,
	}
}
