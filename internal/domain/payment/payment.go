package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("payment: not found")
	ErrConflict      = errors.New("payment: conflict")
	ErrDuplicate     = errors.New("payment: duplicate charge rejected")
	ErrTransition    = errors.New("payment: invalid status transition")
	ErrInvalidAmount = errors.New("payment: amount must be greater than zero")
)

// Gateway failure classification. Adapters map provider errors onto these; the
// orchestrator retries only the transient kinds.
var (
	ErrDeclined           = errors.New("payment: declined")
	ErrInsufficientFunds  = errors.New("payment: insufficient funds")
	ErrNetwork            = errors.New("payment: network error")
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment is one charge attempt against an order. Retries create new attempts;
// at most one attempt per order ever reaches completed. GatewayResponse holds
// the provider payload verbatim for audit.
type Payment struct {
	ID              string
	OrderID         string
	Gateway         string
	Amount          decimal.Decimal
	Currency        string
	Status          Status
	Attempt         int
	TransactionID   string
	IdempotencyKey  string
	GatewayResponse json.RawMessage
	FailureReason   string
	ProcessedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func New(id, orderID, gateway string, amount decimal.Decimal, currency string, attempt int, transactionID string, response json.RawMessage) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Payment{
		ID:              id,
		OrderID:         orderID,
		Gateway:         gateway,
		Amount:          amount,
		Currency:        currency,
		Status:          StatusPending,
		Attempt:         attempt,
		TransactionID:   transactionID,
		IdempotencyKey:  IdempotencyKey(orderID, attempt),
		GatewayResponse: response,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewRefund records the compensating entry written when an order is refunded.
// It is born in its terminal refunded status and never transitions.
func NewRefund(id, orderID, gateway string, amount decimal.Decimal, currency string, attempt int, transactionID string, now time.Time) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	at := now.UTC()
	return &Payment{
		ID:             id,
		OrderID:        orderID,
		Gateway:        gateway,
		Amount:         amount.Neg(),
		Currency:       currency,
		Status:         StatusRefunded,
		Attempt:        attempt,
		TransactionID:  transactionID,
		IdempotencyKey: IdempotencyKey(orderID, attempt),
		ProcessedAt:    &at,
		CreatedAt:      at,
		UpdatedAt:      at,
	}, nil
}

// IdempotencyKey derives the charge key from the order and attempt number, so
// a re-sent request for the same attempt can never produce a second charge.
func IdempotencyKey(orderID string, attempt int) string {
	return fmt.Sprintf("%s-%d", orderID, attempt)
}

// MarkCompleted is monotonic: only a pending attempt can complete, and a
// completed attempt never changes again.
func (p *Payment) MarkCompleted(response json.RawMessage, now time.Time) error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, p.Status, StatusCompleted)
	}
	p.Status = StatusCompleted
	if len(response) > 0 {
		p.GatewayResponse = response
	}
	at := now.UTC()
	p.ProcessedAt = &at
	p.touch()
	return nil
}

func (p *Payment) MarkFailed(reason string, response json.RawMessage, now time.Time) error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, p.Status, StatusFailed)
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	if len(response) > 0 {
		p.GatewayResponse = response
	}
	at := now.UTC()
	p.ProcessedAt = &at
	p.touch()
	return nil
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	clone.GatewayResponse = append(json.RawMessage(nil), p.GatewayResponse...)
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		clone.ProcessedAt = &t
	}
	return &clone
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}
