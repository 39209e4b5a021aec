package fulfillment_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zestmarket/marketplace/internal/application/fulfillment"
	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/payment"
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

var (
	sellerA = access.Actor{ID: "seller-a", Role: access.RoleSeller}
	buyer   = access.Actor{ID: "buyer-1", Role: access.RoleBuyer}
	admin   = access.Actor{ID: "admin-1", Role: access.RoleAdmin}
)

type fixture struct {
	uc       *fulfillment.UseCase
	orders   *memory.OrderRepository
	catalog  *memory.CatalogRepository
	payments *memory.PaymentRepository
	payouts  *memory.PayoutRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	cat := memory.NewCatalogRepository()
	payments := memory.NewPaymentRepository()
	payouts := memory.NewPayoutRepository()
	store := memory.NewCheckoutStore(cat, orders)
	uc := fulfillment.NewUseCase(orders, store, payments, payouts, &seqGen{}, nil, nil)
	return &fixture{uc: uc, orders: orders, catalog: cat, payments: payments, payouts: payouts}
}

func seedOrder(t *testing.T, f *fixture, status order.Status) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:       "order-1",
		Number:   "ORD-20250301-ABCDEF01",
		BuyerID:  "buyer-1",
		Status:   status,
		Currency: "USD",
		Subtotal: d("20.00"),
		Total:    d("20.00"),
		Items: []order.Item{
			{ID: "item-1", OrderID: "order-1", ProductID: "p1", SellerID: "seller-a", Quantity: 2, UnitPrice: d("10.00"), TotalPrice: d("20.00")},
		},
		Groups: []order.SellerGroup{
			{SellerID: "seller-a", Subtotal: d("20.00")},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.orders.Insert(context.Background(), o))
	return o
}

func TestFulfillWithoutTrackingStartsProcessing(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)

	ord, err := f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{Actor: sellerA, OrderID: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, ord.Status)
	assert.Empty(t, ord.TrackingNumber)
}

func TestFulfillWithTrackingShipsInOneCall(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)

	ord, err := f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{
		Actor: sellerA, OrderID: "order-1", TrackingNumber: "TRACK-123",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, ord.Status)
	assert.Equal(t, "TRACK-123", ord.TrackingNumber)
	require.NotNil(t, ord.ShippedAt)

	stored, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status)
}

func TestFulfillProcessingNeedsTracking(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusProcessing)

	_, err := f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{Actor: sellerA, OrderID: "order-1"})
	assert.ErrorIs(t, err, order.ErrTrackingRequired)

	ord, err := f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{
		Actor: sellerA, OrderID: "order-1", TrackingNumber: "TRACK-456",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, ord.Status)
}

func TestFulfillAuthorization(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)

	stranger := access.Actor{ID: "seller-z", Role: access.RoleSeller}
	_, err := f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{Actor: stranger, OrderID: "order-1"})
	assert.ErrorIs(t, err, fulfillment.ErrForbidden)

	_, err = f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{Actor: buyer, OrderID: "order-1"})
	assert.ErrorIs(t, err, fulfillment.ErrForbidden)

	ord, err := f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{Actor: admin, OrderID: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, ord.Status)
}

func TestFulfillPendingOrderRejected(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPending)

	_, err := f.uc.Fulfill(context.Background(), fulfillment.FulfillInput{
		Actor: sellerA, OrderID: "order-1", TrackingNumber: "TRACK-123",
	})
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)
}

func TestDeliverShippedOrder(t *testing.T) {
	f := newFixture(t)
	o := seedOrder(t, f, order.StatusShipped)
	o.TrackingNumber = "TRACK-123"
	require.NoError(t, f.orders.Update(context.Background(), o))

	ord, err := f.uc.Deliver(context.Background(), fulfillment.DeliverInput{Actor: buyer, OrderID: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, ord.Status)
	require.NotNil(t, ord.DeliveredAt)
}

func TestDeliverOnlyFromShipped(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)

	_, err := f.uc.Deliver(context.Background(), fulfillment.DeliverInput{Actor: buyer, OrderID: "order-1"})
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)
}

func TestDeliverByOtherBuyerForbidden(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusShipped)

	other := access.Actor{ID: "buyer-2", Role: access.RoleBuyer}
	_, err := f.uc.Deliver(context.Background(), fulfillment.DeliverInput{Actor: other, OrderID: "order-1"})
	assert.ErrorIs(t, err, fulfillment.ErrForbidden)
}

func TestCancelPendingRestocks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.catalog.SaveProduct(context.Background(), &catalog.Product{
		ID: "p1", SellerID: "seller-a", Title: "Mug", Price: d("10.00"), Stock: 8, Active: true,
	}))
	seedOrder(t, f, order.StatusPending)

	ord, err := f.uc.Cancel(context.Background(), fulfillment.CancelInput{
		Actor: buyer, OrderID: "order-1", Reason: "changed my mind",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, ord.Status)

	p, err := f.catalog.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock, "reserved quantity returned")
}

func TestCancelPaidOrderRejected(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)

	_, err := f.uc.Cancel(context.Background(), fulfillment.CancelInput{Actor: buyer, OrderID: "order-1"})
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)
}

func TestCancelByStrangerForbidden(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPending)

	other := access.Actor{ID: "buyer-2", Role: access.RoleBuyer}
	_, err := f.uc.Cancel(context.Background(), fulfillment.CancelInput{Actor: other, OrderID: "order-1"})
	assert.ErrorIs(t, err, fulfillment.ErrForbidden)
}

func seedCompletedCharge(t *testing.T, f *fixture) *payment.Payment {
	t.Helper()
	charge, err := payment.New("pay-1", "order-1", "stripe", d("20.00"), "USD", 1, "txn-abc", nil)
	require.NoError(t, err)
	require.NoError(t, charge.MarkCompleted(nil, time.Now()))
	require.NoError(t, f.payments.Insert(context.Background(), charge))
	return charge
}

func TestRefundVoidsPayoutsAndWritesCompensation(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)
	seedCompletedCharge(t, f)

	p, err := payout.New("payout-1", "seller-a", "order-1", "item-1", d("20.00"), d("0.05"))
	require.NoError(t, err)
	require.NoError(t, f.payouts.CreateBatch(context.Background(), "order-1", []*payout.Payout{p}))

	ord, err := f.uc.Refund(context.Background(), fulfillment.RefundInput{
		Actor: admin, OrderID: "order-1", Reason: "damaged in transit",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, ord.Status)

	stored, err := f.payouts.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, payout.StatusVoided, stored[0].Status)

	ledger, err := f.payments.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, ledger, 2)

	refund := ledger[1]
	assert.Equal(t, payment.StatusRefunded, refund.Status)
	assert.True(t, refund.Amount.Equal(d("-20.00")))
	assert.Equal(t, 2, refund.Attempt)
	assert.Equal(t, "refund-txn-abc", refund.TransactionID)
	assert.Equal(t, "damaged in transit", refund.FailureReason)
}

func TestRefundShippedOrder(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusShipped)
	seedCompletedCharge(t, f)

	ord, err := f.uc.Refund(context.Background(), fulfillment.RefundInput{Actor: admin, OrderID: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, ord.Status)
}

func TestRefundRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)

	for _, actor := range []access.Actor{buyer, sellerA} {
		_, err := f.uc.Refund(context.Background(), fulfillment.RefundInput{Actor: actor, OrderID: "order-1"})
		assert.ErrorIs(t, err, fulfillment.ErrForbidden, string(actor.Role))
	}
}

func TestRefundDeliveredOrderRejected(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusDelivered)

	_, err := f.uc.Refund(context.Background(), fulfillment.RefundInput{Actor: admin, OrderID: "order-1"})
	assert.ErrorIs(t, err, order.ErrInvalidStateTransition)
}

func TestRefundSurvivesMissingCompletedPayment(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f, order.StatusPaid)

	// No completed charge on record. The refund still lands; the missing
	// ledger entry is logged, not fatal.
	ord, err := f.uc.Refund(context.Background(), fulfillment.RefundInput{Actor: admin, OrderID: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, ord.Status)
}
