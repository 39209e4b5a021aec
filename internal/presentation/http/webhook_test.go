package httppresentation_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	apppayment "github.com/zestmarket/marketplace/internal/application/payment"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/infrastructure/memory"
	"github.com/zestmarket/marketplace/internal/observability"
	httppresentation "github.com/zestmarket/marketplace/internal/presentation/http"
)

const testWebhookSecret = "whsec_test"

type webhookFixture struct {
	router   http.Handler
	orders   *memory.OrderRepository
	payments *memory.PaymentRepository
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	payments := memory.NewPaymentRepository()
	confirm := apppayment.NewConfirmUseCase(orders, payments, nil, nil)
	h := httppresentation.NewHandler(
		nil, nil, nil, nil, confirm, nil, nil,
		nil, observability.NopTelemetry(), nil, secret,
	)

	o := &order.Order{
		ID:        "order-1",
		Number:    "ORD-20250301-ABCDEF01",
		BuyerID:   "buyer-1",
		Status:    order.StatusPending,
		Currency:  "USD",
		Subtotal:  decimal.NewFromFloat(59.50),
		Total:     decimal.NewFromFloat(59.50),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, orders.Insert(context.Background(), o))

	p, err := payment.New("pay-1", "order-1", "stripe", decimal.NewFromFloat(59.50), "USD", 1, "txn-1", nil)
	require.NoError(t, err)
	require.NoError(t, payments.Insert(context.Background(), p))

	return &webhookFixture{router: h.Router(), orders: orders, payments: payments}
}

func signedEvent(t *testing.T, eventType, secret string) (body []byte, header string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": json.RawMessage(`{"id":"txn-1"}`)},
	})
	require.NoError(t, err)

	at := time.Now()
	sig := webhook.ComputeSignature(at, payload, secret)
	return payload, fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func postWebhook(f *webhookFixture, body []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", header)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStripeWebhookConfirmsPayment(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	body, header := signedEvent(t, "payment_intent.succeeded", testWebhookSecret)

	w := postWebhook(f, body, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)

	p, err := f.payments.FindByTransactionID(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	body, _ := signedEvent(t, "payment_intent.succeeded", testWebhookSecret)
	_, forged := signedEvent(t, "payment_intent.succeeded", "whsec_other")

	w := postWebhook(f, body, forged)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Nothing moved.
	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
}

func TestStripeWebhookAppliesFailures(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	body, header := signedEvent(t, "payment_intent.payment_failed", testWebhookSecret)

	w := postWebhook(f, body, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p, err := f.payments.FindByTransactionID(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status, "order stays payable")
}

func TestStripeWebhookIgnoresUnrelatedEvents(t *testing.T) {
	f := newWebhookFixture(t, testWebhookSecret)
	body, header := signedEvent(t, "customer.created", testWebhookSecret)

	w := postWebhook(f, body, header)
	assert.Equal(t, http.StatusOK, w.Code)

	o, err := f.orders.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
}

func TestWebhookRouteAbsentWithoutSecret(t *testing.T) {
	f := newWebhookFixture(t, "")
	body, header := signedEvent(t, "payment_intent.succeeded", testWebhookSecret)

	w := postWebhook(f, body, header)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
