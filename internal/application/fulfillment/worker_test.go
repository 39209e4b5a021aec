package fulfillment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zestmarket/marketplace/internal/application/fulfillment"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
)

func TestSweepWorkerClosesStaleOrders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.catalog.SaveProduct(context.Background(), &catalog.Product{
		ID: "p1", SellerID: "seller-a", Title: "Mug", Price: d("10.00"), Stock: 8, Active: true,
	}))

	stale := seedOrder(t, f, order.StatusPending)
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.orders.Update(context.Background(), stale))

	shippedAt := time.Now().Add(-30 * 24 * time.Hour)
	aged := &order.Order{
		ID:             "order-2",
		Number:         "ORD-20250301-ABCDEF02",
		BuyerID:        "buyer-1",
		Status:         order.StatusShipped,
		Currency:       "USD",
		Subtotal:       d("10.00"),
		Total:          d("10.00"),
		TrackingNumber: "TRACK-123",
		ShippedAt:      &shippedAt,
		Items: []order.Item{
			{ID: "item-2", OrderID: "order-2", ProductID: "p1", SellerID: "seller-a", Quantity: 1, UnitPrice: d("10.00"), TotalPrice: d("10.00")},
		},
		Groups:    []order.SellerGroup{{SellerID: "seller-a", Subtotal: d("10.00")}},
		CreatedAt: shippedAt,
		UpdatedAt: shippedAt,
	}
	require.NoError(t, f.orders.Insert(context.Background(), aged))

	// Fresh orders stay untouched.
	fresh := &order.Order{
		ID:        "order-3",
		Number:    "ORD-20250301-ABCDEF03",
		BuyerID:   "buyer-1",
		Status:    order.StatusPending,
		Currency:  "USD",
		Subtotal:  d("10.00"),
		Total:     d("10.00"),
		Items:     aged.Items,
		Groups:    aged.Groups,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.orders.Insert(context.Background(), fresh))

	worker := fulfillment.NewSweepWorker(f.orders, f.uc, time.Hour, 14*24*time.Hour, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	assert.Eventually(t, func() bool {
		cancelled, err := f.orders.Get(context.Background(), "order-1")
		if err != nil || cancelled.Status != order.StatusCancelled {
			return false
		}
		delivered, err := f.orders.Get(context.Background(), "order-2")
		return err == nil && delivered.Status == order.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	untouched, err := f.orders.Get(context.Background(), "order-3")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, untouched.Status)

	p, err := f.catalog.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock, "auto-cancel restocked the pending order")
}
