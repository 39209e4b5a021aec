package payment

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// IntentRequest asks the gateway to authorize a charge. The idempotency key is
// forwarded so the provider deduplicates retried requests on its side too.
type IntentRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the provider's handle for an authorized-but-unconfirmed charge.
type Intent struct {
	TransactionID string
	ClientSecret  string
	RedirectURL   string
	Raw           json.RawMessage
}

// Gateway is the pluggable payment processor port. Implementations classify
// provider failures into ErrDeclined, ErrInsufficientFunds, ErrNetwork or
// ErrGatewayUnavailable so the orchestrator can decide what is retryable.
type Gateway interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}
