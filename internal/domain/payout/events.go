package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutCreatedEvent struct {
	PayoutID   string
	SellerID   string
	OrderID    string
	NetAmount  decimal.Decimal
	OccurredAt time.Time
}

func (PayoutCreatedEvent) EventName() string { return "payout.created" }

func NewPayoutCreatedEvent(p *Payout) PayoutCreatedEvent {
	return PayoutCreatedEvent{
		PayoutID:   p.ID,
		SellerID:   p.SellerID,
		OrderID:    p.OrderID,
		NetAmount:  p.NetAmount,
		OccurredAt: time.Now().UTC(),
	}
}
