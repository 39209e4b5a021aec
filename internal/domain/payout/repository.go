package payout

import "context"

type Repository interface {
	// CreateBatch inserts every payout for an order as one unit, guarded by a
	// per-order uniqueness rule: a second settlement attempt for the same order
	// fails with ErrAlreadySettled and writes nothing.
	CreateBatch(ctx context.Context, orderID string, payouts []*Payout) error
	Update(ctx context.Context, p *Payout) error
	ListByOrder(ctx context.Context, orderID string) ([]*Payout, error)
	ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*Payout, error)
}
