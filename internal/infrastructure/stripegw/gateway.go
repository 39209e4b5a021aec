package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/zestmarket/marketplace/internal/domain/money"
	"github.com/zestmarket/marketplace/internal/domain/payment"
)

const gatewayName = "stripe"

// Gateway charges through Stripe payment intents. The caller's idempotency key
// is forwarded, so Stripe deduplicates retried requests on its side as well.
type Gateway struct{}

func New(apiKey string) *Gateway {
	stripe.Key = apiKey
	return &Gateway{}
}

func (g *Gateway) Name() string { return gatewayName }

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(money.Cents(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classify(err)
	}

	var raw json.RawMessage
	if pi.LastResponse != nil {
		raw = json.RawMessage(pi.LastResponse.RawJSON)
	}
	return &payment.Intent{
		TransactionID: pi.ID,
		ClientSecret:  pi.ClientSecret,
		Raw:           raw,
	}, nil
}

// classify maps Stripe failures onto the domain's gateway error kinds.
func classify(err error) error {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		// Transport-level failure before a Stripe response existed.
		return fmt.Errorf("%w: %w", payment.ErrNetwork, err)
	}
	switch sErr.Type {
	case stripe.ErrorTypeCard:
		if sErr.DeclineCode == stripe.DeclineCodeInsufficientFunds {
			return fmt.Errorf("%w: %s", payment.ErrInsufficientFunds, sErr.Msg)
		}
		return fmt.Errorf("%w: %s", payment.ErrDeclined, sErr.Msg)
	case stripe.ErrorType("api_connection_error"):
		return fmt.Errorf("%w: %s", payment.ErrNetwork, sErr.Msg)
	}
	if sErr.HTTPStatusCode >= 500 {
		return fmt.Errorf("%w: %s", payment.ErrGatewayUnavailable, sErr.Msg)
	}
	return fmt.Errorf("%w: %s", payment.ErrDeclined, sErr.Msg)
}
