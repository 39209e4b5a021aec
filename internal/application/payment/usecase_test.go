package payment_test

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

	apppayment "github.com/zestmarket/marketplace/internal/application/payment"
	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/order"
	domain "github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/infrastructure/memory"
)

type seqGen struct{ n atomic.Int64 }

func (g *seqGen) NewID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

// fakeGateway answers like a provider with server-side idempotency: the same
// key returns the same intent. Scripted errors are consumed first, one per
// call.
type fakeGateway struct {
	mu    sync.Mutex
	errs  []error
	byKey map[string]*domain.Intent
	calls int
}

func newFakeGateway(errs ...error) *fakeGateway {
	return &fakeGateway{errs: errs, byKey: make(map[string]*domain.Intent)}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateIntent(_ context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if intent, ok := g.byKey[req.IdempotencyKey]; ok {
		return intent, nil
	}
	intent := &domain.Intent{
		TransactionID: fmt.Sprintf("txn-%d", len(g.byKey)+1),
		ClientSecret:  fmt.Sprintf("secret-%d", len(g.byKey)+1),
	}
	g.byKey[req.IdempotencyKey] = intent
	return intent, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	intent   *apppayment.CreateIntentUseCase
	confirm  *apppayment.ConfirmUseCase
	orders   *memory.OrderRepository
	payments *memory.PaymentRepository
	gateway  *fakeGateway
}

func newFixture(t *testing.T, gw *fakeGateway) *fixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	payments := memory.NewPaymentRepository()
	gen := &seqGen{}
	return &fixture{
		intent:   apppayment.NewCreateIntentUseCase(orders, payments, gw, gen, nil, 100*time.Millisecond, 2, nil),
		confirm:  apppayment.NewConfirmUseCase(orders, payments, nil, nil),
		orders:   orders,
		payments: payments,
		gateway:  gw,
	}
}

func seedOrder(t *testing.T, f *fixture, status order.Status) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:        "order-1",
		Number:    "ORD-20250301-ABCDEF01",
		BuyerID:   "buyer-1",
		Status:    status,
		Currency:  "USD",
		Subtotal:  decimal.NewFromFloat(45.00),
		Tax:       decimal.NewFromFloat(4.50),
		Shipping:  decimal.NewFromFloat(10.00),
		Discount:  decimal.Zero,
		Total:     decimal.NewFromFloat(59.50),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.orders.Insert(context.Background(), o))
	return o
}

func asBuyer() apppayment.CreateIntentInput {
	return apppayment.CreateIntentInput{
		Actor:   access.Actor{ID: "buyer-1", Role: access.RoleBuyer},
		OrderID: "order-1",
	}
}

func TestCreateIntent(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	seedOrder(t, f, order.StatusPending)

	result, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	p := result.Payment
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.Equal(t, 1, p.Attempt)
	assert.Equal(t, "order-1-1", p.IdempotencyKey)
	assert.Equal(t, "txn-1", p.TransactionID)
	assert.True(t, p.Amount.Equal(decimal.NewFromFloat(59.50)))
	assert.NotEmpty(t, result.ClientSecret)

	// The order does not move until the gateway confirms.
	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
}

func TestCreateIntentInFlightReplay(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	seedOrder(t, f, order.StatusPending)

	first, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	second, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	// Same attempt, same intent, no second charge and no second row.
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	count, err := f.payments.CountByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateIntentNewAttemptAfterFailure(t *testing.T) {
	f := newFixture(t, newFakeGateway(domain.ErrDeclined))
	seedOrder(t, f, order.StatusPending)

	_, err := f.intent.Execute(context.Background(), asBuyer())
	require.ErrorIs(t, err, domain.ErrDeclined)

	// The decline is recorded as a failed attempt.
	latest, err := f.payments.LatestByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, latest.Status)
	assert.Equal(t, "DECLINED", latest.FailureReason)
	assert.Equal(t, 1, latest.Attempt)

	// The next call opens attempt 2 under a fresh idempotency key.
	result, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Payment.Attempt)
	assert.Equal(t, "order-1-2", result.Payment.IdempotencyKey)
}

func TestCreateIntentTransientExhaustionLeavesNoRow(t *testing.T) {
	gw := newFakeGateway(domain.ErrNetwork, domain.ErrNetwork, domain.ErrNetwork)
	f := newFixture(t, gw)
	seedOrder(t, f, order.StatusPending)

	_, err := f.intent.Execute(context.Background(), asBuyer())
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, 3, gw.callCount(), "initial call plus maxRetries")

	// Nothing to settle, nothing recorded; the order is still payable.
	_, err = f.payments.LatestByOrder(context.Background(), "order-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	result, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Payment.Attempt)
}

func TestCreateIntentRetriesThroughTransientError(t *testing.T) {
	gw := newFakeGateway(domain.ErrNetwork, nil)
	f := newFixture(t, gw)
	seedOrder(t, f, order.StatusPending)

	result, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, result.Payment.Status)
	assert.Equal(t, 2, gw.callCount())
}

func TestCreateIntentOrderGuards(t *testing.T) {
	t.Run("already paid", func(t *testing.T) {
		f := newFixture(t, newFakeGateway())
		seedOrder(t, f, order.StatusPaid)
		_, err := f.intent.Execute(context.Background(), asBuyer())
		assert.ErrorIs(t, err, apppayment.ErrOrderClosed)
	})
	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t, newFakeGateway())
		seedOrder(t, f, order.StatusCancelled)
		_, err := f.intent.Execute(context.Background(), asBuyer())
		assert.ErrorIs(t, err, apppayment.ErrNotPayable)
	})
	t.Run("stranger", func(t *testing.T) {
		f := newFixture(t, newFakeGateway())
		seedOrder(t, f, order.StatusPending)
		in := asBuyer()
		in.Actor = access.Actor{ID: "buyer-2", Role: access.RoleBuyer}
		_, err := f.intent.Execute(context.Background(), in)
		assert.ErrorIs(t, err, apppayment.ErrForbidden)
	})
	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t, newFakeGateway())
		in := asBuyer()
		in.OrderID = "missing"
		_, err := f.intent.Execute(context.Background(), in)
		assert.ErrorIs(t, err, order.ErrNotFound)
	})
}

func TestCreateIntentRejectsDuplicateCharge(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	seedOrder(t, f, order.StatusPending)

	result, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	_, err = f.confirm.Execute(context.Background(), apppayment.ConfirmInput{
		TransactionID: result.Payment.TransactionID,
		Succeeded:     true,
	})
	require.NoError(t, err)

	// The order guard fires first; even forcing the status shows the
	// completed-payment guard behind it.
	_, err = f.intent.Execute(context.Background(), asBuyer())
	assert.ErrorIs(t, err, apppayment.ErrOrderClosed)
}

func TestConfirmCompletesPaymentAndOrder(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	seedOrder(t, f, order.StatusPending)

	created, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	result, err := f.confirm.Execute(context.Background(), apppayment.ConfirmInput{
		TransactionID: created.Payment.TransactionID,
		Succeeded:     true,
		Payload:       []byte(`{"status":"succeeded"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, result.Payment.Status)
	assert.Equal(t, order.StatusPaid, result.OrderStatus)

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	seedOrder(t, f, order.StatusPending)

	created, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	in := apppayment.ConfirmInput{TransactionID: created.Payment.TransactionID, Succeeded: true}
	first, err := f.confirm.Execute(context.Background(), in)
	require.NoError(t, err)

	// The replayed callback acknowledges without changing anything, and a
	// contradictory late callback cannot downgrade the completed payment.
	replay, err := f.confirm.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.Payment.ID, replay.Payment.ID)
	assert.Equal(t, domain.StatusCompleted, replay.Payment.Status)

	in.Succeeded = false
	in.FailureReason = "late decline"
	late, err := f.confirm.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, late.Payment.Status)
	assert.Equal(t, order.StatusPaid, late.OrderStatus)
}

func TestConfirmFailureKeepsOrderPayable(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	seedOrder(t, f, order.StatusPending)

	created, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	result, err := f.confirm.Execute(context.Background(), apppayment.ConfirmInput{
		TransactionID: created.Payment.TransactionID,
		Succeeded:     false,
		FailureReason: "card_declined",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Payment.Status)
	assert.Equal(t, "card_declined", result.Payment.FailureReason)
	assert.Equal(t, order.StatusPending, result.OrderStatus)

	// A fresh attempt is still possible.
	retry, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)
	assert.Equal(t, 2, retry.Payment.Attempt)
}

func TestConfirmOnCancelledOrderFailsTheCharge(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	o := seedOrder(t, f, order.StatusPending)

	created, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	// The order is cancelled while the charge is in flight.
	require.NoError(t, o.Cancel())
	require.NoError(t, f.orders.Update(context.Background(), o))

	_, err = f.confirm.Execute(context.Background(), apppayment.ConfirmInput{
		TransactionID: created.Payment.TransactionID,
		Succeeded:     true,
	})
	require.ErrorIs(t, err, order.ErrInvalidStateTransition)

	p, err := f.payments.FindByTransactionID(context.Background(), created.Payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, p.Status)
	assert.Equal(t, "ORDER_NOT_PENDING", p.FailureReason)
}

// racingOrders triggers a hook once after a successful Get, opening the window
// between the confirm's read and its write.
type racingOrders struct {
	*memory.OrderRepository
	once  sync.Once
	onGet func()
}

func (r *racingOrders) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := r.OrderRepository.Get(ctx, id)
	if err == nil && r.onGet != nil {
		r.once.Do(r.onGet)
	}
	return o, err
}

func TestConfirmRacingCancelDoesNotRegressOrder(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	seedOrder(t, f, order.StatusPending)

	created, err := f.intent.Execute(context.Background(), asBuyer())
	require.NoError(t, err)

	// A cancel lands between the confirm's order read and its write.
	racing := &racingOrders{OrderRepository: f.orders}
	racing.onGet = func() {
		o, gerr := f.orders.Get(context.Background(), "order-1")
		require.NoError(t, gerr)
		require.NoError(t, o.Cancel())
		require.NoError(t, f.orders.Update(context.Background(), o))
	}
	confirm := apppayment.NewConfirmUseCase(racing, f.payments, nil, nil)

	_, err = confirm.Execute(context.Background(), apppayment.ConfirmInput{
		TransactionID: created.Payment.TransactionID,
		Succeeded:     true,
	})
	require.ErrorIs(t, err, order.ErrInvalidStateTransition)

	// The cancelled order stays cancelled and the charge is not recorded as
	// captured.
	stored, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)

	p, err := f.payments.FindByTransactionID(context.Background(), created.Payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, p.Status)
	assert.Equal(t, "ORDER_NOT_PENDING", p.FailureReason)
}

func TestConfirmUnknownTransaction(t *testing.T) {
	f := newFixture(t, newFakeGateway())
	_, err := f.confirm.Execute(context.Background(), apppayment.ConfirmInput{
		TransactionID: "txn-unknown",
		Succeeded:     true,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
