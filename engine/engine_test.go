package engine_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/trade-ledger/engine"
	"github.com/warp/trade-ledger/engine/store"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	eng   *engine.Engine
	store *store.TxMemory
}

// newFixture seeds two items and two customers:
//
//	item-a: stock 10, sells 5.00, costs 3.00
//	item-b: stock 20, sells 2.50, costs 1.00
//	cust-1, cust-2: balance 0
func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	mem := store.NewTxMemory()
	var seq int64
	base := []engine.Option{
		engine.WithLogger(zaptest.NewLogger(t)),
		engine.WithClock(func() time.Time { return testNow }),
		engine.WithIDGenerator(func() string {
			return fmt.Sprintf("id-%03d", atomic.AddInt64(&seq, 1))
		}),
	}
	f := &fixture{ctx: context.Background(), eng: engine.New(mem, append(base, opts...)...), store: mem}

	f.createItem(t, "item-a", "Item A", 10, "5.00", "3.00")
	f.createItem(t, "item-b", "Item B", 20, "2.50", "1.00")
	f.createCustomer(t, "cust-1", "Customer One")
	f.createCustomer(t, "cust-2", "Customer Two")
	return f
}

func (f *fixture) createItem(t *testing.T, id, name string, stock int64, selling, cost string) {
	t.Helper()
	_, err := f.eng.CreateItem(f.ctx, engine.CreateItemCommand{
		ID:           id,
		SKU:          "SKU-" + id,
		Name:         name,
		StockLevel:   stock,
		ReorderLevel: 2,
		UnitCost:     money(cost),
		SellingPrice: money(selling),
	})
	require.NoError(t, err)
}

func (f *fixture) createCustomer(t *testing.T, id, name string) {
	t.Helper()
	_, err := f.eng.CreateCustomer(f.ctx, engine.CreateCustomerCommand{ID: id, Name: name})
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, itemID string) int64 {
	t.Helper()
	item, err := f.eng.GetItem(f.ctx, itemID)
	require.NoError(t, err)
	return item.StockLevel
}

func (f *fixture) balance(t *testing.T, customerID string) decimal.Decimal {
	t.Helper()
	c, err := f.eng.GetCustomer(f.ctx, customerID)
	require.NoError(t, err)
	return c.Balance
}

func (f *fixture) journalFor(t *testing.T, typ engine.TransactionType, entityID string) []engine.Transaction {
	t.Helper()
	rows, err := f.eng.ListTransactions(f.ctx, engine.TransactionFilter{Type: typ, EntityID: entityID})
	require.NoError(t, err)
	return rows
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func moneyPtr(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, money(want).String(), got.String(), msgAndArgs...)
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 10, 0, 0, 0, time.UTC)
}

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

func TestCreateOrder_ConsumesStockAndChargesCustomer(t *testing.T) {
	// GIVEN: item-a with 10 in stock selling at 5.00
	// WHEN: Ordering 3 (+1 free) with 5.00 paid
	// THEN: Stock drops by 4, total is 15.00, balance is -10.00, one journal row of 5.00

	f := newFixture(t)

	res, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID:  "cust-1",
		Date:        day(3),
		Lines:       []engine.OrderLine{{ItemID: "item-a", Quantity: 3, FreeQty: 1}},
		AmountPaid:  money("5.00"),
		PaymentMode: "cash",
	})
	require.NoError(t, err)

	assertMoney(t, "15.00", res.Order.Total)
	assert.Equal(t, engine.PaymentPartial, res.Order.PaymentStatus)
	assert.Equal(t, engine.DeliveryPending, res.Order.DeliveryStatus)
	assert.Equal(t, int64(6), f.stock(t, "item-a"))
	assertMoney(t, "-10.00", f.balance(t, "cust-1"))
	assertMoney(t, "-10.00", res.Customer.Balance)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(6), res.Items[0].StockLevel)

	rows := f.journalFor(t, engine.TxOrder, res.Order.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, res.Order.ID, rows[0].ID, "order row id is the order id")
	assertMoney(t, "5.00", rows[0].Amount)
	assert.Equal(t, "cash", rows[0].PaymentMode)
}

func TestCreateOrder_UnpaidHasNoJournalRow(t *testing.T) {
	// GIVEN: A fresh ledger
	// WHEN: Creating an order with nothing paid
	// THEN: Status is Unpaid and no order row exists

	f := newFixture(t)

	res, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-b", Quantity: 4}},
	})
	require.NoError(t, err)

	assert.Equal(t, engine.PaymentUnpaid, res.Order.PaymentStatus)
	assert.Equal(t, testNow, res.Order.Date, "zero date defaults to now")
	assert.Empty(t, f.journalFor(t, engine.TxOrder, res.Order.ID))
	assertMoney(t, "-10.00", f.balance(t, "cust-1"))
}

func TestCreateOrder_PricesDefaultFromCatalog(t *testing.T) {
	// GIVEN: A line with no prices and a line with an explicit selling price
	// WHEN: Creating the order
	// THEN: Missing prices come from the item; explicit ones are kept

	f := newFixture(t)

	res, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines: []engine.OrderLine{
			{ItemID: "item-a", Quantity: 1},
			{ItemID: "item-b", Quantity: 2, SellingPrice: money("3.00")},
		},
		AmountPaid: money("11.00"),
	})
	require.NoError(t, err)

	require.Len(t, res.Order.Lines, 2)
	assertMoney(t, "5.00", res.Order.Lines[0].SellingPrice)
	assertMoney(t, "3.00", res.Order.Lines[0].UnitPrice, "cost snapshot")
	assertMoney(t, "3.00", res.Order.Lines[1].SellingPrice)
	assertMoney(t, "11.00", res.Order.Total)
	assert.Equal(t, engine.PaymentPaid, res.Order.PaymentStatus)
}

func TestCreateOrder_BlankLinesDropped(t *testing.T) {
	// GIVEN: An order form with an empty trailing row
	// WHEN: Creating the order
	// THEN: The blank row is ignored

	f := newFixture(t)

	res, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 2}, {}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Order.Lines, 1)

	// Only blank rows is a validation failure
	_, err = f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{}, {}},
	})
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		cmd   engine.CreateOrderCommand
		field string
	}{
		{
			name:  "missing customer",
			cmd:   engine.CreateOrderCommand{Lines: []engine.OrderLine{{ItemID: "item-a", Quantity: 1}}},
			field: "customerId",
		},
		{
			name: "negative discount",
			cmd: engine.CreateOrderCommand{CustomerID: "cust-1", Discount: money("-1"),
				Lines: []engine.OrderLine{{ItemID: "item-a", Quantity: 1}}},
			field: "discount",
		},
		{
			name: "negative amount paid",
			cmd: engine.CreateOrderCommand{CustomerID: "cust-1", AmountPaid: money("-1"),
				Lines: []engine.OrderLine{{ItemID: "item-a", Quantity: 1}}},
			field: "amountPaid",
		},
		{
			name: "zero quantity",
			cmd: engine.CreateOrderCommand{CustomerID: "cust-1",
				Lines: []engine.OrderLine{{ItemID: "item-a", Quantity: 0}}},
			field: "lines",
		},
		{
			name: "discount above order value",
			cmd: engine.CreateOrderCommand{CustomerID: "cust-1", Discount: money("6.00"),
				Lines: []engine.OrderLine{{ItemID: "item-a", Quantity: 1}}},
			field: "discount",
		},
		{
			name: "unknown delivery status",
			cmd: engine.CreateOrderCommand{CustomerID: "cust-1", DeliveryStatus: "lost",
				Lines: []engine.OrderLine{{ItemID: "item-a", Quantity: 1}}},
			field: "deliveryStatus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.CreateOrder(f.ctx, tt.cmd)
			var verr *engine.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// Nothing leaked from the rejected attempts
	assert.Equal(t, int64(10), f.stock(t, "item-a"))
	assertMoney(t, "0", f.balance(t, "cust-1"))
	orders, err := f.eng.ListOrders(f.ctx, engine.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrder_UnknownReferences(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-missing",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 1}},
	})
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 1}, {ItemID: "item-missing", Quantity: 1}},
	})
	var nf *engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "item", nf.Kind)
	assert.Equal(t, int64(10), f.stock(t, "item-a"), "partial stock change rolled back")
}

func TestUpdateOrder_RevertsThenReapplies(t *testing.T) {
	// GIVEN: An unpaid order of 3 x item-a
	// WHEN: Changing it to 2 x item-b with 5.00 paid
	// THEN: item-a is fully restored, item-b consumed, balance and journal follow the new order

	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 3}},
	})
	require.NoError(t, err)

	res, err := f.eng.UpdateOrder(f.ctx, engine.UpdateOrderCommand{
		ID:         created.Order.ID,
		Lines:      []engine.OrderLine{{ItemID: "item-b", Quantity: 2}},
		AmountPaid: moneyPtr("5.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, created.Order.ID, res.Order.ID)
	assertMoney(t, "5.00", res.Order.Total)
	assert.Equal(t, engine.PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, int64(10), f.stock(t, "item-a"))
	assert.Equal(t, int64(18), f.stock(t, "item-b"))
	assertMoney(t, "0", f.balance(t, "cust-1"))
	assert.Len(t, res.Items, 2, "both old and new items reported")

	rows := f.journalFor(t, engine.TxOrder, created.Order.ID)
	require.Len(t, rows, 1)
	assertMoney(t, "5.00", rows[0].Amount)
}

func TestUpdateOrder_SameInputIsIdempotent(t *testing.T) {
	// GIVEN: A partially paid order
	// WHEN: Saving it twice without changes
	// THEN: Stock, balance and journal are unchanged

	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 2}, {ItemID: "item-b", Quantity: 4}},
		AmountPaid: money("7.00"),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.eng.UpdateOrder(f.ctx, engine.UpdateOrderCommand{ID: created.Order.ID})
		require.NoError(t, err)
	}

	assert.Equal(t, int64(8), f.stock(t, "item-a"))
	assert.Equal(t, int64(16), f.stock(t, "item-b"))
	assertMoney(t, "-13.00", f.balance(t, "cust-1"))
	rows := f.journalFor(t, engine.TxOrder, created.Order.ID)
	require.Len(t, rows, 1)
	assertMoney(t, "7.00", rows[0].Amount)
}

func TestUpdateOrder_MovesToAnotherCustomer(t *testing.T) {
	// GIVEN: cust-1 owes 10.00 on an order
	// WHEN: The order is reassigned to cust-2
	// THEN: cust-1 is back to 0 and cust-2 owes 10.00

	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 2}},
	})
	require.NoError(t, err)

	cust2 := "cust-2"
	res, err := f.eng.UpdateOrder(f.ctx, engine.UpdateOrderCommand{ID: created.Order.ID, CustomerID: &cust2})
	require.NoError(t, err)

	assert.Equal(t, "cust-2", res.Order.CustomerID)
	assertMoney(t, "0", f.balance(t, "cust-1"))
	assertMoney(t, "-10.00", f.balance(t, "cust-2"))
	assert.Equal(t, int64(8), f.stock(t, "item-a"))
}

func TestUpdateOrder_ClearingPaymentRemovesJournalRow(t *testing.T) {
	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 1}},
		AmountPaid: money("5.00"),
	})
	require.NoError(t, err)
	require.Len(t, f.journalFor(t, engine.TxOrder, created.Order.ID), 1)

	res, err := f.eng.UpdateOrder(f.ctx, engine.UpdateOrderCommand{ID: created.Order.ID, AmountPaid: moneyPtr("0")})
	require.NoError(t, err)

	assert.Equal(t, engine.PaymentUnpaid, res.Order.PaymentStatus)
	assert.Empty(t, f.journalFor(t, engine.TxOrder, created.Order.ID))
	assertMoney(t, "-5.00", f.balance(t, "cust-1"))
}

func TestUpdateOrder_RejectedEditLeavesCommittedState(t *testing.T) {
	// GIVEN: A committed order
	// WHEN: An edit references an unknown item
	// THEN: The edit fails and nothing it reverted is visible

	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 3}},
		AmountPaid: money("5.00"),
	})
	require.NoError(t, err)

	_, err = f.eng.UpdateOrder(f.ctx, engine.UpdateOrderCommand{
		ID:    created.Order.ID,
		Lines: []engine.OrderLine{{ItemID: "item-missing", Quantity: 1}},
	})
	require.ErrorIs(t, err, engine.ErrNotFound)

	assert.Equal(t, int64(7), f.stock(t, "item-a"))
	assertMoney(t, "-10.00", f.balance(t, "cust-1"))
	require.Len(t, f.journalFor(t, engine.TxOrder, created.Order.ID), 1)
	stored, err := f.eng.GetOrder(f.ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "item-a", stored.Lines[0].ItemID)
}

func TestDeleteOrder_RestoresEverything(t *testing.T) {
	// GIVEN: A paid order
	// WHEN: Deleting it
	// THEN: Stock, balance and journal return to their pre-order state

	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 2, FreeQty: 1}},
		AmountPaid: money("4.00"),
	})
	require.NoError(t, err)

	res, err := f.eng.DeleteOrder(f.ctx, created.Order.ID)
	require.NoError(t, err)

	assert.Equal(t, created.Order.ID, res.Order.ID)
	assert.Equal(t, int64(10), f.stock(t, "item-a"))
	assertMoney(t, "0", f.balance(t, "cust-1"))
	assert.Empty(t, f.journalFor(t, engine.TxOrder, created.Order.ID))

	_, err = f.eng.GetOrder(f.ctx, created.Order.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDeleteOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.DeleteOrder(f.ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = f.eng.DeleteOrder(f.ctx, "")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestRecordOrderPayment(t *testing.T) {
	// GIVEN: An unpaid order of 15.00
	// WHEN: Recording 10.00, then 5.00
	// THEN: Status moves Partial -> Paid, the single journal row tracks the cumulative amount

	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 3}},
	})
	require.NoError(t, err)

	res, err := f.eng.RecordOrderPayment(f.ctx, engine.RecordPaymentCommand{
		OrderID: created.Order.ID, Amount: money("10.00"), PaymentMode: "card",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.PaymentPartial, res.Order.PaymentStatus)
	assertMoney(t, "-5.00", res.Customer.Balance)

	res, err = f.eng.RecordOrderPayment(f.ctx, engine.RecordPaymentCommand{
		OrderID: created.Order.ID, Amount: money("5.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, engine.PaymentPaid, res.Order.PaymentStatus)
	assertMoney(t, "0", f.balance(t, "cust-1"))

	rows := f.journalFor(t, engine.TxOrder, created.Order.ID)
	require.Len(t, rows, 1)
	assertMoney(t, "15.00", rows[0].Amount)
}

func TestRecordOrderPayment_RejectsOverpayment(t *testing.T) {
	f := newFixture(t)
	created, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.eng.RecordOrderPayment(f.ctx, engine.RecordPaymentCommand{
		OrderID: created.Order.ID, Amount: money("5.01"),
	})
	assert.ErrorIs(t, err, engine.ErrValidation)
	assertMoney(t, "-5.00", f.balance(t, "cust-1"))
	assert.Empty(t, f.journalFor(t, engine.TxOrder, created.Order.ID))
}

// =============================================================================
// STOCK POLICY
// =============================================================================

func TestNegativeStock_AllowedByDefault(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 12}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), f.stock(t, "item-a"))

	low, err := f.eng.ListLowStock(f.ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "item-a", low[0].ID)
}

func TestNegativeStock_RejectedWhenDisabled(t *testing.T) {
	// GIVEN: An engine that rejects negative stock
	// WHEN: Ordering more than is on hand
	// THEN: InsufficientStockError, and neither stock nor balance moved

	f := newFixture(t, engine.WithNegativeStock(false))

	_, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-b", Quantity: 1}, {ItemID: "item-a", Quantity: 11}},
	})
	var serr *engine.InsufficientStockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "item-a", serr.ItemID)
	assert.Equal(t, int64(10), serr.Available)
	assert.Equal(t, int64(11), serr.Requested)
	assert.True(t, engine.IsClientError(err))

	assert.Equal(t, int64(10), f.stock(t, "item-a"))
	assert.Equal(t, int64(20), f.stock(t, "item-b"))
	assertMoney(t, "0", f.balance(t, "cust-1"))
}

func TestNegativeStock_PurchaseDeleteRejectedWhenStockSold(t *testing.T) {
	// GIVEN: A purchase of 5 whose units were already sold, negative stock disabled
	// WHEN: Deleting the purchase
	// THEN: The revert would go negative, so the delete is rejected

	f := newFixture(t, engine.WithNegativeStock(false))
	p, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 5, UnitPrice: money("3.00")}},
	})
	require.NoError(t, err)
	_, err = f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 13}},
	})
	require.NoError(t, err)

	_, err = f.eng.DeletePurchase(f.ctx, p.Purchase.ID)
	assert.ErrorIs(t, err, engine.ErrInsufficientStock)
	assert.Equal(t, int64(2), f.stock(t, "item-a"))
	require.Len(t, f.journalFor(t, engine.TxPurchase, p.Purchase.ID), 1)
}

func TestNegativeStock_PurchaseEditJudgedByFinalLevels(t *testing.T) {
	// GIVEN: A purchase of 5 partly sold (stock 2), negative stock disabled
	// WHEN: Editing notes only, then raising the quantity to 8
	// THEN: Both edits pass since the final stock stays >= 0; lowering below the sold units fails

	f := newFixture(t, engine.WithNegativeStock(false))
	p, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 5, UnitPrice: money("3.00")}},
	})
	require.NoError(t, err)
	_, err = f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 13}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), f.stock(t, "item-a"))

	notes := "invoice #42"
	updated, err := f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{ID: p.Purchase.ID, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "invoice #42", updated.Purchase.Notes)
	assert.Equal(t, int64(2), f.stock(t, "item-a"))

	_, err = f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{
		ID:    p.Purchase.ID,
		Lines: []engine.PurchaseLine{{ItemID: "item-a", Quantity: 8, UnitPrice: money("3.00")}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.stock(t, "item-a"))

	// 8 -> 2 would leave -1
	_, err = f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{
		ID:    p.Purchase.ID,
		Lines: []engine.PurchaseLine{{ItemID: "item-a", Quantity: 2, UnitPrice: money("3.00")}},
	})
	var stockErr *engine.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "item-a", stockErr.ItemID)
	assert.Equal(t, int64(5), f.stock(t, "item-a"))
	rows := f.journalFor(t, engine.TxPurchase, p.Purchase.ID)
	require.Len(t, rows, 1)
	assertMoney(t, "24.00", rows[0].Amount)

	// Moving the purchase to another item lowers item-a the same way
	_, err = f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{
		ID:    p.Purchase.ID,
		Lines: []engine.PurchaseLine{{ItemID: "item-b", Quantity: 8, UnitPrice: money("1.00")}},
	})
	assert.ErrorIs(t, err, engine.ErrInsufficientStock)
	assert.Equal(t, int64(20), f.stock(t, "item-b"))
}

// =============================================================================
// PURCHASE LIFECYCLE
// =============================================================================

func TestPurchase_CreateUpdateDelete(t *testing.T) {
	f := newFixture(t)

	// Create: restock and record cost
	created, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "  Acme Supplies ",
		Date:         day(2),
		PaymentMode:  "bank",
		Lines: []engine.PurchaseLine{
			{ItemID: "item-a", Quantity: 5, UnitPrice: money("3.20")},
			{ItemID: "item-b", Quantity: 10, UnitPrice: money("0.90")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Supplies", created.Purchase.SupplierName)
	assertMoney(t, "25.00", created.Purchase.Total)
	assert.Equal(t, int64(15), f.stock(t, "item-a"))
	assert.Equal(t, int64(30), f.stock(t, "item-b"))

	item, err := f.eng.GetItem(f.ctx, "item-a")
	require.NoError(t, err)
	assertMoney(t, "3.20", item.UnitCost)

	rows := f.journalFor(t, engine.TxPurchase, created.Purchase.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, created.Purchase.ID, rows[0].ID)
	assertMoney(t, "25.00", rows[0].Amount)
	assert.Equal(t, day(2), rows[0].Date)

	// Update: drop item-b, change item-a quantity
	updated, err := f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{
		ID:    created.Purchase.ID,
		Lines: []engine.PurchaseLine{{ItemID: "item-a", Quantity: 2, UnitPrice: money("3.50")}},
	})
	require.NoError(t, err)
	assertMoney(t, "7.00", updated.Purchase.Total)
	assert.Equal(t, int64(12), f.stock(t, "item-a"))
	assert.Equal(t, int64(20), f.stock(t, "item-b"))
	assert.Len(t, updated.Items, 2)
	item, err = f.eng.GetItem(f.ctx, "item-a")
	require.NoError(t, err)
	assertMoney(t, "3.50", item.UnitCost)

	rows = f.journalFor(t, engine.TxPurchase, created.Purchase.ID)
	require.Len(t, rows, 1)
	assertMoney(t, "7.00", rows[0].Amount)

	// Delete: stock back to the seed, row gone
	_, err = f.eng.DeletePurchase(f.ctx, created.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.stock(t, "item-a"))
	assert.Empty(t, f.journalFor(t, engine.TxPurchase, created.Purchase.ID))

	_, err = f.eng.GetPurchase(f.ctx, created.Purchase.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestPurchase_LaterCostLeavesEarlierTotals(t *testing.T) {
	// GIVEN: P1 bought at 3.00
	// WHEN: P2 buys the same item at 3.50
	// THEN: The item cost moves to 3.50, P1's total and journal row do not

	f := newFixture(t)
	p1, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 4, UnitPrice: money("3.00")}},
	})
	require.NoError(t, err)
	_, err = f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 2, UnitPrice: money("3.50")}},
	})
	require.NoError(t, err)

	item, err := f.eng.GetItem(f.ctx, "item-a")
	require.NoError(t, err)
	assertMoney(t, "3.50", item.UnitCost)

	stored, err := f.eng.GetPurchase(f.ctx, p1.Purchase.ID)
	require.NoError(t, err)
	assertMoney(t, "12.00", stored.Total)
	assertMoney(t, "3.00", stored.Lines[0].UnitPrice)
	rows := f.journalFor(t, engine.TxPurchase, p1.Purchase.ID)
	require.Len(t, rows, 1)
	assertMoney(t, "12.00", rows[0].Amount)
}

func TestPurchase_RepeatedEditsKeepOneRow(t *testing.T) {
	f := newFixture(t)
	p, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 1, UnitPrice: money("3.00")}},
	})
	require.NoError(t, err)

	for i, qty := range []int64{3, 6, 2} {
		_, err := f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{
			ID:    p.Purchase.ID,
			Lines: []engine.PurchaseLine{{ItemID: "item-a", Quantity: qty, UnitPrice: money("3.00")}},
		})
		require.NoError(t, err, "edit %d", i)

		rows := f.journalFor(t, engine.TxPurchase, p.Purchase.ID)
		require.Len(t, rows, 1, "edit %d", i)
		assert.Equal(t, p.Purchase.ID, rows[0].ID)
		assertMoney(t, money("3.00").Mul(decimal.NewFromInt(qty)).String(), rows[0].Amount)
		assert.Equal(t, 10+qty, f.stock(t, "item-a"))
	}
}

func TestUpdate_ZeroDateRejected(t *testing.T) {
	// GIVEN: A committed order and purchase
	// WHEN: An update sets the date to the zero time
	// THEN: ValidationError, the committed date is kept

	f := newFixture(t)
	o, err := f.eng.CreateOrder(f.ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Date:       day(3),
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 1}},
	})
	require.NoError(t, err)
	p, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Date:         day(2),
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 1, UnitPrice: money("3.00")}},
	})
	require.NoError(t, err)

	zero := time.Time{}
	_, err = f.eng.UpdateOrder(f.ctx, engine.UpdateOrderCommand{ID: o.Order.ID, Date: &zero})
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Field)

	_, err = f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{ID: p.Purchase.ID, Date: &zero})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Field)

	stored, err := f.eng.GetOrder(f.ctx, o.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, day(3), stored.Date)
}

func TestPurchase_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 1}},
	})
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{SupplierName: "Acme"})
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: -1}},
	})
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = f.eng.UpdatePurchase(f.ctx, engine.UpdatePurchaseCommand{ID: "nope"})
	assert.ErrorIs(t, err, engine.ErrNotFound)

	assert.Equal(t, int64(10), f.stock(t, "item-a"))
}

// =============================================================================
// CATALOG AND EXPENSES
// =============================================================================

func TestCreateItemAndCustomer_DuplicateIDs(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateItem(f.ctx, engine.CreateItemCommand{ID: "item-a", Name: "Again"})
	assert.ErrorIs(t, err, engine.ErrDuplicateEntry)

	_, err = f.eng.CreateCustomer(f.ctx, engine.CreateCustomerCommand{ID: "cust-1", Name: "Again"})
	assert.ErrorIs(t, err, engine.ErrDuplicateEntry)

	c, err := f.eng.CreateCustomer(f.ctx, engine.CreateCustomerCommand{Name: "Walk-in", OpeningBalance: money("12.50")})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assertMoney(t, "12.50", c.Balance)
}

func TestExpenses_RecordAndDelete(t *testing.T) {
	f := newFixture(t)

	tx, err := f.eng.RecordExpense(f.ctx, engine.RecordExpenseCommand{
		Date: day(4), Amount: money("45.00"), Description: "Fuel", Category: "transport",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.TxExpense, tx.Type)
	assert.Empty(t, tx.EntityID)

	rows, err := f.eng.ListTransactions(f.ctx, engine.TransactionFilter{Type: engine.TxExpense})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertMoney(t, "45.00", rows[0].Amount)

	deleted, err := f.eng.DeleteExpense(f.ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, deleted.ID)

	_, err = f.eng.DeleteExpense(f.ctx, tx.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = f.eng.RecordExpense(f.ctx, engine.RecordExpenseCommand{Amount: money("1.00")})
	assert.ErrorIs(t, err, engine.ErrValidation, "description required")
}

func TestDeleteExpense_RefusesPairedRows(t *testing.T) {
	// GIVEN: A purchase and its journal row
	// WHEN: Trying to delete that row as an expense
	// THEN: Refused; the row belongs to the purchase

	f := newFixture(t)
	p, err := f.eng.CreatePurchase(f.ctx, engine.CreatePurchaseCommand{
		SupplierName: "Acme",
		Lines:        []engine.PurchaseLine{{ItemID: "item-a", Quantity: 1, UnitPrice: money("3.00")}},
	})
	require.NoError(t, err)

	_, err = f.eng.DeleteExpense(f.ctx, p.Purchase.ID)
	assert.ErrorIs(t, err, engine.ErrValidation)
	assert.Len(t, f.journalFor(t, engine.TxPurchase, p.Purchase.ID), 1)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelledContext_AppliesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.eng.CreateOrder(ctx, engine.CreateOrderCommand{
		CustomerID: "cust-1",
		Lines:      []engine.OrderLine{{ItemID: "item-a", Quantity: 1}},
		AmountPaid: money("5.00"),
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = f.eng.AllocateCustomerPayment(ctx, engine.AllocatePaymentCommand{CustomerID: "cust-1", Amount: money("5.00")})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int64(10), f.stock(t, "item-a"))
	assertMoney(t, "0", f.balance(t, "cust-1"))
	rows, err := f.eng.ListTransactions(f.ctx, engine.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
