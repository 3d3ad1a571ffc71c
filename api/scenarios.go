/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	trading business. Every row is created through the engine, so stock,
	balances and the journal are consistent exactly as they would be in
	normal use.

AVAILABLE SCENARIOS:

	trading-basics:   Catalog, two customers, a restock and three orders
	fifo-collections: One customer with several open orders to settle
	stock-shortfall:  Orders that drive stock below zero and under reorder level

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create items and customers
 3. Record purchases (restock, cost prices)
 4. Record orders, payments and expenses

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fifo-collections"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/trade-ledger/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "trading-basics",
		Name:        "Trading Basics",
		Description: "Catalog of staples, a supplier restock, paid, partial and unpaid orders",
	},
	{
		ID:          "fifo-collections",
		Name:        "FIFO Collections",
		Description: "One customer with three open orders; allocate a payment to settle the oldest first",
	},
	{
		ID:          "stock-shortfall",
		Name:        "Stock Shortfall",
		Description: "Sales outrun stock: negative stock levels and a low-stock list",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"trading-basics":   (*Handler).loadTradingBasicsScenario,
	"fifo-collections": (*Handler).loadFIFOCollectionsScenario,
	"stock-shortfall":  (*Handler).loadStockShortfallScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		h.writeEngineError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 10, 0, 0, 0, time.UTC)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *Handler) seedCatalog(ctx context.Context) error {
	items := []engine.CreateItemCommand{
		{ID: "item-rice", SKU: "RICE-25", Name: "Rice 25kg", StockLevel: 0, ReorderLevel: 10,
			UnitCost: money("18.00"), SellingPrice: money("24.00")},
		{ID: "item-oil", SKU: "OIL-5", Name: "Sunflower Oil 5L", StockLevel: 0, ReorderLevel: 6,
			UnitCost: money("7.50"), SellingPrice: money("10.00")},
		{ID: "item-sugar", SKU: "SUG-10", Name: "Sugar 10kg", StockLevel: 0, ReorderLevel: 8,
			UnitCost: money("6.00"), SellingPrice: money("8.50")},
	}
	for _, cmd := range items {
		if _, err := h.Engine.CreateItem(ctx, cmd); err != nil {
			return err
		}
	}
	customers := []engine.CreateCustomerCommand{
		{ID: "cust-corner", Name: "Corner Grocery", Phone: "555-0101"},
		{ID: "cust-hotel", Name: "Harbour Hotel", Phone: "555-0144"},
	}
	for _, cmd := range customers {
		if _, err := h.Engine.CreateCustomer(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) restock(ctx context.Context, at time.Time) error {
	_, err := h.Engine.CreatePurchase(ctx, engine.CreatePurchaseCommand{
		SupplierName: "Valley Wholesale",
		Date:         at,
		PaymentMode:  "bank",
		Lines: []engine.PurchaseLine{
			{ItemID: "item-rice", Quantity: 40, UnitPrice: money("17.50")},
			{ItemID: "item-oil", Quantity: 30, UnitPrice: money("7.20")},
			{ItemID: "item-sugar", Quantity: 25, UnitPrice: money("6.00")},
		},
	})
	return err
}

func (h *Handler) loadTradingBasicsScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}
	if err := h.restock(ctx, day(time.March, 1)); err != nil {
		return err
	}

	orders := []engine.CreateOrderCommand{
		{
			CustomerID: "cust-corner", Date: day(time.March, 3),
			Lines:      []engine.OrderLine{{ItemID: "item-rice", Quantity: 5}, {ItemID: "item-oil", Quantity: 4, FreeQty: 1}},
			AmountPaid: money("160.00"), PaymentMode: "cash", DeliveryStatus: engine.DeliveryDelivered,
		},
		{
			CustomerID: "cust-hotel", Date: day(time.March, 4),
			Lines:      []engine.OrderLine{{ItemID: "item-rice", Quantity: 10}, {ItemID: "item-sugar", Quantity: 6}},
			Discount:   money("11.00"), AmountPaid: money("100.00"), PaymentMode: "card",
		},
		{
			CustomerID: "cust-corner", Date: day(time.March, 6),
			Lines: []engine.OrderLine{{ItemID: "item-sugar", Quantity: 4}},
		},
	}
	for _, cmd := range orders {
		if _, err := h.Engine.CreateOrder(ctx, cmd); err != nil {
			return err
		}
	}

	_, err := h.Engine.RecordExpense(ctx, engine.RecordExpenseCommand{
		Date: day(time.March, 5), Amount: money("45.00"), Description: "Delivery van fuel",
		PaymentMode: "cash", Category: "transport",
	})
	return err
}

func (h *Handler) loadFIFOCollectionsScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}
	if err := h.restock(ctx, day(time.April, 1)); err != nil {
		return err
	}

	// Created out of date order on purpose: FIFO follows the order date.
	orders := []engine.CreateOrderCommand{
		{CustomerID: "cust-hotel", Date: day(time.April, 10),
			Lines: []engine.OrderLine{{ItemID: "item-oil", Quantity: 3}}},
		{CustomerID: "cust-hotel", Date: day(time.April, 2),
			Lines: []engine.OrderLine{{ItemID: "item-rice", Quantity: 2}}, AmountPaid: money("8.00"), PaymentMode: "cash"},
		{CustomerID: "cust-hotel", Date: day(time.April, 5),
			Lines: []engine.OrderLine{{ItemID: "item-sugar", Quantity: 4}}},
	}
	for _, cmd := range orders {
		if _, err := h.Engine.CreateOrder(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadStockShortfallScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}
	_, err := h.Engine.CreatePurchase(ctx, engine.CreatePurchaseCommand{
		SupplierName: "Valley Wholesale",
		Date:         day(time.May, 1),
		Lines: []engine.PurchaseLine{
			{ItemID: "item-rice", Quantity: 5, UnitPrice: money("18.20")},
			{ItemID: "item-oil", Quantity: 12, UnitPrice: money("7.40")},
		},
	})
	if err != nil {
		return err
	}
	_, err = h.Engine.CreateOrder(ctx, engine.CreateOrderCommand{
		CustomerID: "cust-corner", Date: day(time.May, 2),
		Lines:      []engine.OrderLine{{ItemID: "item-rice", Quantity: 8}, {ItemID: "item-oil", Quantity: 4}},
		AmountPaid: money("50.00"), PaymentMode: "cash",
	})
	return err
}
