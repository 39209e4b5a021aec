package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/zestmarket/marketplace/internal/domain/coupon"
)

// CouponRepository guards the usage counters with its lock, so Redeem is one
// conditional increment and never overshoots a limit under concurrency.
type CouponRepository struct {
	mu          sync.Mutex
	coupons     map[string]*coupon.Coupon
	redemptions map[string]map[string]int // code -> user -> count
}

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		coupons:     make(map[string]*coupon.Coupon),
		redemptions: make(map[string]map[string]int),
	}
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *CouponRepository) Save(ctx context.Context, c *coupon.Coupon) error {
	_ = ctx
	if c == nil || c.Code == "" {
		return fmt.Errorf("coupon repository: code is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.coupons[c.Code] = c.Clone()
	return nil
}

func (r *CouponRepository) CountRedemptions(ctx context.Context, code, userID string) (int, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.redemptions[code][userID], nil
}

func (r *CouponRepository) Redeem(ctx context.Context, code, userID string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[code]
	if !ok {
		return coupon.ErrNotFound
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return coupon.ErrExhausted
	}
	if c.UserLimit > 0 && r.redemptions[code][userID] >= c.UserLimit {
		return coupon.ErrExhausted
	}

	c.UsedCount++
	users := r.redemptions[code]
	if users == nil {
		users = make(map[string]int)
		r.redemptions[code] = users
	}
	users[userID]++
	return nil
}

func (r *CouponRepository) Release(ctx context.Context, code, userID string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[code]
	if !ok {
		return coupon.ErrNotFound
	}
	if c.UsedCount > 0 {
		c.UsedCount--
	}
	if users := r.redemptions[code]; users != nil && users[userID] > 0 {
		users[userID]--
	}
	return nil
}
