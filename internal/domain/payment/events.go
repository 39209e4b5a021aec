package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentCompletedEvent struct {
	PaymentID  string
	OrderID    string
	Gateway    string
	Amount     decimal.Decimal
	OccurredAt time.Time
}

func (PaymentCompletedEvent) EventName() string { return "payment.completed" }

func NewPaymentCompletedEvent(p *Payment) PaymentCompletedEvent {
	return PaymentCompletedEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Gateway:    p.Gateway,
		Amount:     p.Amount,
		OccurredAt: time.Now().UTC(),
	}
}

type PaymentFailedEvent struct {
	PaymentID  string
	OrderID    string
	Gateway    string
	Reason     string
	OccurredAt time.Time
}

func (PaymentFailedEvent) EventName() string { return "payment.failed" }

func NewPaymentFailedEvent(p *Payment) PaymentFailedEvent {
	return PaymentFailedEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Gateway:    p.Gateway,
		Reason:     p.FailureReason,
		OccurredAt: time.Now().UTC(),
	}
}
