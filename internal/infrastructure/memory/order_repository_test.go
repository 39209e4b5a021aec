package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
)

func seedPendingOrder(t *testing.T, orders *OrderRepository) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:       "order-1",
		Number:   "ORD-20250301-ABCDEF01",
		BuyerID:  "buyer-1",
		Status:   order.StatusPending,
		Currency: "USD",
		Subtotal: decimal.NewFromInt(20),
		Total:    decimal.NewFromInt(20),
		Items: []order.Item{
			{ID: "item-1", OrderID: "order-1", ProductID: "p1", SellerID: "seller-a", Quantity: 2, UnitPrice: decimal.NewFromInt(10), TotalPrice: decimal.NewFromInt(20)},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, orders.Insert(context.Background(), o))
	return o
}

func TestOrderUpdateRejectsStatusRegression(t *testing.T) {
	orders := NewOrderRepository()
	seedPendingOrder(t, orders)

	// Two writers load the same pending order.
	first, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	second, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)

	// The first one cancels and wins the write.
	require.NoError(t, first.Cancel())
	require.NoError(t, orders.Update(context.Background(), first))

	// The second still holds a pending clone and tries to mark it paid. The
	// write must not resurrect a terminal order.
	require.NoError(t, second.MarkPaid())
	err = orders.Update(context.Background(), second)
	assert.ErrorIs(t, err, order.ErrConflict)

	stored, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
}

func TestOrderUpdateAllowsForwardProgress(t *testing.T) {
	orders := NewOrderRepository()
	o := seedPendingOrder(t, orders)

	require.NoError(t, o.MarkPaid())
	require.NoError(t, orders.Update(context.Background(), o))

	// Same-status writes stay legal for non-status field updates.
	o.Notes = "gift wrap"
	require.NoError(t, orders.Update(context.Background(), o))

	require.NoError(t, o.StartProcessing())
	require.NoError(t, o.Ship("TRACK-1", time.Now()))
	require.NoError(t, orders.Update(context.Background(), o))

	stored, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status)
}

func TestCancelledOrderDoesNotRegressAfterRestock(t *testing.T) {
	cat := NewCatalogRepository()
	orders := NewOrderRepository()
	store := NewCheckoutStore(cat, orders)
	require.NoError(t, cat.SaveProduct(context.Background(), &catalog.Product{
		ID: "p1", SellerID: "seller-a", Title: "Mug", Price: decimal.NewFromInt(10), Stock: 8, Active: true,
	}))
	seedPendingOrder(t, orders)

	confirmer, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)

	// Cancellation lands first and hands the reservation back.
	canceller, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	require.NoError(t, canceller.Cancel())
	restock := []catalog.StockLine{{ProductID: "p1", Quantity: 2}}
	require.NoError(t, store.CancelOrder(context.Background(), canceller, restock))

	p, err := cat.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 10, p.Stock)

	// The racing confirm must not flip the restocked order back to paid.
	require.NoError(t, confirmer.MarkPaid())
	assert.ErrorIs(t, orders.Update(context.Background(), confirmer), order.ErrConflict)

	stored, err := orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
}
