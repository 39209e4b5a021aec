package payout

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("payout: not found")
	ErrAlreadySettled = errors.New("payout: order already settled")
	ErrTransition     = errors.New("payout: invalid status transition")
	ErrAmountSplit    = errors.New("payout: net and commission must sum to the item total")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusVoided     Status = "voided"
)

// Payout is the obligation to pay one seller for one order item, net of the
// platform commission. It is created exactly once per paid order and is never
// deleted; voiding keeps the audit trail intact.
type Payout struct {
	ID               string
	SellerID         string
	OrderID          string
	OrderItemID      string
	Amount           decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	NetAmount        decimal.Decimal
	Status           Status
	PayoutMethod     string
	ProcessedAt      *time.Time
	CreatedAt        time.Time
}

func New(id, sellerID, orderID, orderItemID string, amount, rate decimal.Decimal) (*Payout, error) {
	commission := amount.Mul(rate).Round(2)
	net := amount.Sub(commission)
	if !net.Add(commission).Equal(amount) {
		return nil, fmt.Errorf("%w: %s + %s != %s", ErrAmountSplit, net, commission, amount)
	}
	return &Payout{
		ID:               id,
		SellerID:         sellerID,
		OrderID:          orderID,
		OrderItemID:      orderItemID,
		Amount:           amount,
		CommissionRate:   rate,
		CommissionAmount: commission,
		NetAmount:        net,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// Void terminates a payout that has not been handed to the batch runner yet.
// Anything past pending belongs to external reconciliation and stays put.
func (p *Payout) Void() error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, p.Status, StatusVoided)
	}
	p.Status = StatusVoided
	return nil
}

func (p *Payout) Clone() *Payout {
	if p == nil {
		return nil
	}
	clone := *p
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		clone.ProcessedAt = &t
	}
	return &clone
}
