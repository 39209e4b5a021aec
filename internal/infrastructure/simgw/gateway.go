package simgw

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zestmarket/marketplace/internal/domain/payment"
)

// Gateway is the in-process stand-in used when no provider key is configured.
// Magic cent values trigger the failure classes so the retry and decline paths
// stay exercisable without a real provider: .01 declines, .02 reports
// insufficient funds, .03 fails as a network error.
type Gateway struct {
	mu      sync.Mutex
	intents map[string]*payment.Intent
}

func New() *Gateway {
	return &Gateway{intents: make(map[string]*payment.Intent)}
}

func (g *Gateway) Name() string { return "simulated" }

var (
	centsDeclined     = decimal.NewFromFloat(0.01)
	centsInsufficient = decimal.NewFromFloat(0.02)
	centsNetwork      = decimal.NewFromFloat(0.03)
)

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrNetwork, err)
	}

	cents := req.Amount.Mod(decimal.NewFromInt(1))
	switch {
	case cents.Equal(centsDeclined):
		return nil, payment.ErrDeclined
	case cents.Equal(centsInsufficient):
		return nil, payment.ErrInsufficientFunds
	case cents.Equal(centsNetwork):
		return nil, payment.ErrNetwork
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Same idempotency key, same intent, like a real provider.
	if intent, ok := g.intents[req.IdempotencyKey]; ok {
		return intent, nil
	}

	txnID := "sim_" + uuid.NewString()
	raw, _ := json.Marshal(map[string]string{
		"id":              txnID,
		"order_id":        req.OrderID,
		"amount":          req.Amount.String(),
		"currency":        req.Currency,
		"idempotency_key": req.IdempotencyKey,
	})
	intent := &payment.Intent{
		TransactionID: txnID,
		ClientSecret:  txnID + "_secret_" + uuid.NewString()[:8],
		Raw:           raw,
	}
	g.intents[req.IdempotencyKey] = intent
	return intent, nil
}
