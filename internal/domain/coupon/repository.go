package coupon

import "context"

type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	Save(ctx context.Context, c *Coupon) error
	// CountRedemptions reports how often userID has redeemed the code.
	CountRedemptions(ctx context.Context, code, userID string) (int, error)
	// Redeem increments the usage counters as one conditional update; it fails
	// with ErrExhausted once either limit is reached, never overshooting it.
	Redeem(ctx context.Context, code, userID string) error
	// Release undoes a redemption whose checkout did not go through.
	Release(ctx context.Context, code, userID string) error
}
