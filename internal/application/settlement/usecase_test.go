package settlement_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zestmarket/marketplace/internal/application/settlement"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/payout"
	"github.com/zestmarket/marketplace/internal/infrastructure/memory"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type seqGen struct{ n atomic.Int64 }

func (g *seqGen) NewID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

type fixture struct {
	uc      *settlement.SettleUseCase
	orders  *memory.OrderRepository
	sellers *memory.CatalogRepository
	payouts *memory.PayoutRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	sellers := memory.NewCatalogRepository()
	payouts := memory.NewPayoutRepository()
	uc := settlement.NewSettleUseCase(orders, sellers, payouts, &seqGen{}, nil, d("0.05"), nil)
	return &fixture{uc: uc, orders: orders, sellers: sellers, payouts: payouts}
}

func seedPaidOrder(t *testing.T, f *fixture) *order.Order {
	t.Helper()
	return seedOrder(t, f, order.StatusPaid)
}

func seedOrder(t *testing.T, f *fixture, status order.Status) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:       "order-1",
		Number:   "ORD-20250301-ABCDEF01",
		BuyerID:  "buyer-1",
		Status:   status,
		Currency: "USD",
		Subtotal: d("45.00"),
		Total:    d("45.00"),
		Items: []order.Item{
			{ID: "item-1", OrderID: "order-1", ProductID: "p1", SellerID: "seller-a", Quantity: 2, UnitPrice: d("10.00"), TotalPrice: d("20.00")},
			{ID: "item-2", OrderID: "order-1", ProductID: "p2", SellerID: "seller-b", Quantity: 1, UnitPrice: d("25.00"), TotalPrice: d("25.00")},
		},
		Groups: []order.SellerGroup{
			{SellerID: "seller-a", Subtotal: d("20.00")},
			{SellerID: "seller-b", Subtotal: d("25.00")},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.orders.Insert(context.Background(), o))
	return o
}

func TestSettleCreatesOnePayoutPerItem(t *testing.T) {
	f := newFixture(t)
	seedPaidOrder(t, f)

	result, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Len(t, result.Payouts, 2)

	// Default 5% commission, net + commission == item total.
	first := result.Payouts[0]
	assert.Equal(t, "seller-a", first.SellerID)
	assert.Equal(t, "item-1", first.OrderItemID)
	assert.True(t, first.CommissionAmount.Equal(d("1.00")))
	assert.True(t, first.NetAmount.Equal(d("19.00")))

	second := result.Payouts[1]
	assert.True(t, second.CommissionAmount.Equal(d("1.25")))
	assert.True(t, second.NetAmount.Equal(d("23.75")))

	for _, p := range result.Payouts {
		assert.True(t, p.NetAmount.Add(p.CommissionAmount).Equal(p.Amount))
		assert.Equal(t, payout.StatusPending, p.Status)
	}
}

func TestSettleUsesSellerNegotiatedRate(t *testing.T) {
	f := newFixture(t)
	seedPaidOrder(t, f)
	rate := d("0.10")
	require.NoError(t, f.sellers.SaveSeller(context.Background(), &catalog.Seller{
		ID: "seller-a", ShopName: "Shop A", CommissionRate: &rate, Active: true,
	}))

	result, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
	require.NoError(t, err)

	// seller-a pays its negotiated 10%; seller-b is unknown and falls back
	// to the platform default.
	assert.True(t, result.Payouts[0].CommissionAmount.Equal(d("2.00")))
	assert.True(t, result.Payouts[1].CommissionAmount.Equal(d("1.25")))
}

func TestSettleExactlyOnce(t *testing.T) {
	f := newFixture(t)
	seedPaidOrder(t, f)

	first, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
	require.NoError(t, err)

	replay, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	require.Len(t, replay.Payouts, 2)
	assert.Equal(t, first.Payouts[0].ID, replay.Payouts[0].ID)

	stored, err := f.payouts.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2, "no duplicate batch")
}

func TestSettleConcurrentCallsWriteOneBatch(t *testing.T) {
	f := newFixture(t)
	seedPaidOrder(t, f)

	const callers = 8
	var wg sync.WaitGroup
	var fresh atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
			if err == nil && !result.Replayed {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load(), "exactly one caller writes the batch")
	stored, err := f.payouts.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSettleRejectsUnsettleableOrders(t *testing.T) {
	for _, status := range []order.Status{order.StatusPending, order.StatusCancelled, order.StatusRefunded} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			seedOrder(t, f, status)

			_, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
			assert.ErrorIs(t, err, settlement.ErrNotSettleable)

			stored, lerr := f.payouts.ListByOrder(context.Background(), "order-1")
			require.NoError(t, lerr)
			assert.Empty(t, stored, "no payouts minted for a %s order", status)
		})
	}
}

func TestSettleAfterRefundMintsNothing(t *testing.T) {
	f := newFixture(t)
	o := seedPaidOrder(t, f)
	require.NoError(t, o.Refund())
	require.NoError(t, f.orders.Update(context.Background(), o))

	// A redelivered payment_completed event arriving after the refund.
	_, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
	assert.ErrorIs(t, err, settlement.ErrNotSettleable)

	stored, err := f.payouts.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSettleUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "missing"})
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestVoidPendingSkipsSettledPayouts(t *testing.T) {
	f := newFixture(t)
	seedPaidOrder(t, f)

	result, err := f.uc.Execute(context.Background(), settlement.SettleInput{OrderID: "order-1"})
	require.NoError(t, err)

	// One payout has already been handed to the batch runner.
	processed := result.Payouts[1]
	processed.Status = payout.StatusCompleted
	require.NoError(t, f.payouts.Update(context.Background(), processed))

	voided, err := settlement.VoidPending(context.Background(), f.payouts, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 1, voided)

	stored, err := f.payouts.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusVoided, stored[0].Status)
	assert.Equal(t, payout.StatusCompleted, stored[1].Status)
}
