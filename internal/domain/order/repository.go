package order

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*Order, error)
	ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*Order, error)
	// ListPendingBefore feeds the unpaid-order auto-cancel sweep.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Order, error)
	// ListShippedBefore feeds the delivery auto-confirm sweep.
	ListShippedBefore(ctx context.Context, cutoff time.Time) ([]*Order, error)
}
