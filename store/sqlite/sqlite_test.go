package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/trade-ledger/engine"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// ROW ROUND TRIPS
// =============================================================================

func TestItems_SaveAdjustAndCost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveItem(ctx, engine.InventoryItem{
		ID: "i1", SKU: "W-1", Name: "Widget", StockLevel: 4, ReorderLevel: 2,
		UnitCost: dec("1.10"), SellingPrice: dec("2.75"),
	}))

	item, err := s.AdjustStock(ctx, "i1", -6)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), item.StockLevel)
	assert.Equal(t, int64(2), item.Version)
	assert.True(t, item.SellingPrice.Equal(dec("2.75")))

	require.NoError(t, s.SetUnitCost(ctx, "i1", dec("1.35")))
	item, err = s.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, item.UnitCost.Equal(dec("1.35")), "money is stored exactly")

	_, err = s.AdjustStock(ctx, "missing", 1)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCustomers_AdjustBalanceExact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCustomer(ctx, engine.Customer{ID: "c1", Name: "Ann"}))

	for i := 0; i < 10; i++ {
		_, err := s.AdjustBalance(ctx, "c1", dec("0.10"))
		require.NoError(t, err)
	}
	c, err := s.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "1", c.Balance.String())

	_, err = s.AdjustBalance(ctx, "nobody", dec("1"))
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestOrders_RoundTripAndFIFOListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := func(day int) time.Time { return time.Date(2025, time.June, day, 8, 30, 0, 0, time.UTC) }

	o := engine.Order{
		ID: "o2", CustomerID: "c1", Date: d(3),
		Lines: []engine.OrderLine{{ItemID: "i1", Quantity: 2, FreeQty: 1, UnitPrice: dec("1.10"), SellingPrice: dec("2.75")}},
		Discount: dec("0.50"), Total: dec("5.00"), AmountPaid: dec("2.00"),
		PaymentStatus: engine.PaymentPartial, DeliveryStatus: engine.DeliveryShipped, PaymentMode: "cash",
	}
	require.NoError(t, s.SaveOrder(ctx, o))
	require.NoError(t, s.SaveOrder(ctx, engine.Order{ID: "o1", CustomerID: "c1", Date: d(3), PaymentStatus: engine.PaymentUnpaid}))
	require.NoError(t, s.SaveOrder(ctx, engine.Order{ID: "o0", CustomerID: "c1", Date: d(1), PaymentStatus: engine.PaymentPaid}))
	require.NoError(t, s.SaveOrder(ctx, engine.Order{ID: "o9", CustomerID: "c2", Date: d(1), PaymentStatus: engine.PaymentUnpaid}))

	got, err := s.GetOrder(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, d(3), got.Date)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, int64(1), got.Lines[0].FreeQty)
	assert.True(t, got.Lines[0].SellingPrice.Equal(dec("2.75")))
	assert.True(t, got.Total.Equal(dec("5.00")))
	assert.Equal(t, engine.DeliveryShipped, got.DeliveryStatus)

	open, err := s.ListOrders(ctx, engine.OrderFilter{CustomerID: "c1", OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "o1", open[0].ID, "same date, id breaks the tie")
	assert.Equal(t, "o2", open[1].ID)

	all, err := s.ListOrders(ctx, engine.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, s.DeleteOrder(ctx, "o2"))
	assert.ErrorIs(t, s.DeleteOrder(ctx, "o2"), engine.ErrNotFound)
}

func TestTransactions_PairingUniqueIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := engine.Transaction{ID: "p1", Type: engine.TxPurchase, EntityID: "p1", Amount: dec("9.99"), Date: time.Now()}
	require.NoError(t, s.InsertTransaction(ctx, row))

	dup := row
	dup.ID = "p1-bis"
	assert.ErrorIs(t, s.InsertTransaction(ctx, dup), engine.ErrDuplicateEntry)
	assert.ErrorIs(t, s.InsertTransaction(ctx, row), engine.ErrDuplicateEntry, "same primary key")

	// Expense rows have no entity and never collide
	require.NoError(t, s.InsertTransaction(ctx, engine.Transaction{ID: "e1", Type: engine.TxExpense, Amount: dec("1")}))
	require.NoError(t, s.InsertTransaction(ctx, engine.Transaction{ID: "e2", Type: engine.TxExpense, Amount: dec("2")}))

	deleted, err := s.DeleteEntityTransaction(ctx, engine.TxPurchase, "p1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteEntityTransaction(ctx, engine.TxPurchase, "p1")
	require.NoError(t, err)
	assert.False(t, deleted)

	rows, err := s.ListTransactions(ctx, engine.TransactionFilter{Type: engine.TxExpense})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_Rollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveItem(ctx, engine.InventoryItem{ID: "i1", Name: "Widget", StockLevel: 5}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx engine.Store) error {
		if _, err := tx.AdjustStock(ctx, "i1", -5); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, engine.Transaction{ID: "e1", Type: engine.TxExpense, Amount: dec("1")}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	item, err := s.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), item.StockLevel)
	_, err = s.GetTransaction(ctx, "e1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveItem(ctx, engine.InventoryItem{ID: "i1", Name: "Widget"}))
	require.NoError(t, s.SaveCustomer(ctx, engine.Customer{ID: "c1", Name: "Ann"}))

	require.NoError(t, s.Reset(ctx))

	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	customers, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngineOnSQLite_OrderLifecycleAndAllocation(t *testing.T) {
	// GIVEN: The engine backed by SQLite
	// WHEN: Creating, editing, paying and deleting orders
	// THEN: Stock, balances and the journal stay consistent on disk

	s := newTestStore(t)
	ctx := context.Background()
	eng := engine.New(s, engine.WithLogger(zaptest.NewLogger(t)))

	_, err := eng.CreateItem(ctx, engine.CreateItemCommand{ID: "i1", Name: "Widget", StockLevel: 20,
		UnitCost: dec("2.00"), SellingPrice: dec("5.00")})
	require.NoError(t, err)
	_, err = eng.CreateCustomer(ctx, engine.CreateCustomerCommand{ID: "c1", Name: "Ann"})
	require.NoError(t, err)

	first, err := eng.CreateOrder(ctx, engine.CreateOrderCommand{
		CustomerID: "c1", Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Lines: []engine.OrderLine{{ItemID: "i1", Quantity: 10}},
	})
	require.NoError(t, err)
	second, err := eng.CreateOrder(ctx, engine.CreateOrderCommand{
		CustomerID: "c1", Date: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Lines: []engine.OrderLine{{ItemID: "i1", Quantity: 6}},
	})
	require.NoError(t, err)

	res, err := eng.AllocateCustomerPayment(ctx, engine.AllocatePaymentCommand{CustomerID: "c1", Amount: dec("70")})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, first.Order.ID, res.Allocations[0].OrderID)
	assert.True(t, res.Allocations[0].Amount.Equal(dec("50")))
	assert.Equal(t, second.Order.ID, res.Allocations[1].OrderID)
	assert.True(t, res.Allocations[1].Amount.Equal(dec("20")))

	_, err = eng.DeleteOrder(ctx, second.Order.ID)
	require.NoError(t, err)

	item, err := eng.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.StockLevel)

	c, err := eng.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "0", c.Balance.String(), "-50 order +50 paid, the deleted order's effect fully reverted")

	report, err := eng.AuditJournal(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "issues: %+v", report.Issues)
	assert.Equal(t, 1, report.Rows)
}
