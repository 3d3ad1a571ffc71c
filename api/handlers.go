/*
handlers.go - HTTP API handlers for the trade ledger

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Items:
    GET    /api/items                  List items
    POST   /api/items                  Create item
    GET    /api/items/low-stock        Items at or below reorder level
    GET    /api/items/{id}             Get item

  Customers:
    GET    /api/customers              List customers
    POST   /api/customers              Create customer
    GET    /api/customers/{id}         Get customer
    POST   /api/customers/{id}/payments  FIFO payment across open orders

  Orders:
    GET    /api/orders                 List (?customer_id=, ?open=true)
    POST   /api/orders                 Create order
    GET    /api/orders/{id}            Get order
    PUT    /api/orders/{id}            Edit order (revert, then reapply)
    DELETE /api/orders/{id}            Delete order (revert)
    POST   /api/orders/{id}/payments   Standalone payment on one order

  Purchases:
    GET    /api/purchases              List purchases
    POST   /api/purchases              Create purchase
    GET    /api/purchases/{id}         Get purchase
    PUT    /api/purchases/{id}         Edit purchase
    DELETE /api/purchases/{id}         Delete purchase

  Journal:
    GET    /api/transactions           List (?type=, ?entity_id=)
    POST   /api/expenses               Record expense
    DELETE /api/expenses/{id}          Delete expense
    GET    /api/audit                  Journal pairing audit

REQUEST FLOW:
  1. Decode the JSON body into a *Request DTO
  2. Convert to an engine command
  3. Call the engine (it validates before mutating)
  4. Serialize the result DTO
  5. Map errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient stock
  - 404: Unknown item/customer/order/purchase/transaction
  - 409: Concurrent modification, duplicate id
  - 500: Consistency and internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/trade-ledger/engine"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all persisted data. Used by the demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Store  Resetter
	Log    *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the engine.
func NewHandler(eng *engine.Engine, store Resetter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: eng, Store: store, Log: log}
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.ListItems(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list items", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items))
}

// ListLowStock returns items whose stock fell to or below the reorder level.
func (h *Handler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.ListLowStock(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list low-stock items", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.Engine.CreateItem(r.Context(), engine.CreateItemCommand{
		ID:           req.ID,
		SKU:          req.SKU,
		Name:         req.Name,
		StockLevel:   req.StockLevel,
		ReorderLevel: req.ReorderLevel,
		UnitCost:     req.UnitCost,
		SellingPrice: req.SellingPrice,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Engine.ListCustomers(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list customers", err)
		return
	}
	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Engine.CreateCustomer(r.Context(), engine.CreateCustomerCommand{
		ID:             req.ID,
		Name:           req.Name,
		Phone:          req.Phone,
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// AllocatePayment spreads one customer payment across open orders, oldest first.
func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	res, err := h.Engine.AllocateCustomerPayment(r.Context(), engine.AllocatePaymentCommand{
		CustomerID:  chi.URLParam(r, "id"),
		Amount:      req.Amount,
		PaymentMode: req.PaymentMode,
		Date:        date,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to allocate payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationResultDTO(res))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := engine.OrderFilter{CustomerID: r.URL.Query().Get("customer_id")}
	if open := r.URL.Query().Get("open"); open != "" {
		v, err := strconv.ParseBool(open)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid open filter", err)
			return
		}
		filter.OpenOnly = v
	}
	orders, err := h.Engine.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	res, err := h.Engine.CreateOrder(r.Context(), engine.CreateOrderCommand{
		CustomerID:     req.CustomerID,
		Date:           date,
		Lines:          toOrderLines(req.Lines),
		Discount:       req.Discount,
		AmountPaid:     req.AmountPaid,
		PaymentMode:    req.PaymentMode,
		DeliveryStatus: engine.DeliveryStatus(req.DeliveryStatus),
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResultDTO(res))
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd := engine.UpdateOrderCommand{
		ID:          chi.URLParam(r, "id"),
		CustomerID:  req.CustomerID,
		Lines:       toOrderLines(req.Lines),
		Discount:    req.Discount,
		AmountPaid:  req.AmountPaid,
		PaymentMode: req.PaymentMode,
		Notes:       req.Notes,
	}
	// An empty date keeps the committed one.
	if req.Date != nil && strings.TrimSpace(*req.Date) != "" {
		date, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		cmd.Date = &date
	}
	if req.DeliveryStatus != nil {
		status := engine.DeliveryStatus(*req.DeliveryStatus)
		cmd.DeliveryStatus = &status
	}

	res, err := h.Engine.UpdateOrder(r.Context(), cmd)
	if err != nil {
		h.writeEngineError(w, "Failed to update order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResultDTO(res))
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.DeleteOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to delete order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResultDTO(res))
}

// RecordOrderPayment applies a standalone payment to one order.
func (h *Handler) RecordOrderPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	res, err := h.Engine.RecordOrderPayment(r.Context(), engine.RecordPaymentCommand{
		OrderID:     chi.URLParam(r, "id"),
		Amount:      req.Amount,
		PaymentMode: req.PaymentMode,
		Date:        date,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResultDTO(res))
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.Engine.ListPurchases(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list purchases", err)
		return
	}
	dtos := make([]PurchaseDTO, len(purchases))
	for i, p := range purchases {
		dtos[i] = toPurchaseDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.GetPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTO(p))
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	res, err := h.Engine.CreatePurchase(r.Context(), engine.CreatePurchaseCommand{
		SupplierName: req.SupplierName,
		Date:         date,
		Lines:        toPurchaseLines(req.Lines),
		PaymentMode:  req.PaymentMode,
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to create purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseResultDTO(res))
}

func (h *Handler) UpdatePurchase(w http.ResponseWriter, r *http.Request) {
	var req UpdatePurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd := engine.UpdatePurchaseCommand{
		ID:           chi.URLParam(r, "id"),
		SupplierName: req.SupplierName,
		Lines:        toPurchaseLines(req.Lines),
		PaymentMode:  req.PaymentMode,
		Notes:        req.Notes,
	}
	// An empty date keeps the committed one.
	if req.Date != nil && strings.TrimSpace(*req.Date) != "" {
		date, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		cmd.Date = &date
	}

	res, err := h.Engine.UpdatePurchase(r.Context(), cmd)
	if err != nil {
		h.writeEngineError(w, "Failed to update purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResultDTO(res))
}

func (h *Handler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.DeletePurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to delete purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResultDTO(res))
}

// =============================================================================
// JOURNAL HANDLERS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs, err := h.Engine.ListTransactions(r.Context(), engine.TransactionFilter{
		Type:     engine.TransactionType(q.Get("type")),
		EntityID: q.Get("entity_id"),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	tx, err := h.Engine.RecordExpense(r.Context(), engine.RecordExpenseCommand{
		Date:        date,
		Amount:      req.Amount,
		Description: req.Description,
		PaymentMode: req.PaymentMode,
		Category:    req.Category,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to record expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.DeleteExpense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to delete expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// RunAudit checks journal pairing on demand.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.AuditJournal(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to audit journal", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case engine.IsClientError(err):
		return http.StatusBadRequest
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrConcurrencyConflict), errors.Is(err, engine.ErrDuplicateEntry):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}
