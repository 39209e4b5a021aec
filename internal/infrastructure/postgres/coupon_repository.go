package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zestmarket/marketplace/internal/domain/coupon"
)

type CouponRepository struct {
	pool *pgxpool.Pool
}

func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c := &coupon.Coupon{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, type, value, minimum_amount, maximum_discount,
		       usage_limit, used_count, user_limit, valid_from, valid_until,
		       active, created_at, updated_at
		FROM coupons WHERE code = $1`, code).
		Scan(&c.ID, &c.Code, &c.Name, &c.Type, &c.Value, &c.MinimumAmount, &c.MaximumDiscount,
			&c.UsageLimit, &c.UsedCount, &c.UserLimit, &c.ValidFrom, &c.ValidUntil,
			&c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find coupon: %w", err)
	}
	return c, nil
}

func (r *CouponRepository) Save(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO coupons (code, id, name, type, value, minimum_amount, maximum_discount,
		                     usage_limit, used_count, user_limit, valid_from, valid_until,
		                     active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, value = EXCLUDED.value,
			minimum_amount = EXCLUDED.minimum_amount, maximum_discount = EXCLUDED.maximum_discount,
			usage_limit = EXCLUDED.usage_limit, used_count = EXCLUDED.used_count,
			user_limit = EXCLUDED.user_limit, valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until, active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		c.Code, c.ID, c.Name, c.Type, c.Value, c.MinimumAmount, c.MaximumDiscount,
		c.UsageLimit, c.UsedCount, c.UserLimit, c.ValidFrom, c.ValidUntil,
		c.Active, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save coupon: %w", err)
	}
	return nil
}

func (r *CouponRepository) CountRedemptions(ctx context.Context, code, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT count FROM coupon_redemptions WHERE code = $1 AND user_id = $2), 0)`,
		code, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count redemptions: %w", err)
	}
	return count, nil
}

// Redeem claims one redemption in a single transaction. Both counters move
// behind conditional statements, so concurrent checkouts can never push a
// limit past its cap; a failed condition rolls the whole claim back.
func (r *CouponRepository) Redeem(ctx context.Context, code, userID string) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE coupons SET used_count = used_count + 1, updated_at = now()
			WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)`, code)
		if err != nil {
			return fmt.Errorf("postgres: redeem coupon: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`, code).Scan(&exists); err != nil {
				return fmt.Errorf("postgres: redeem coupon: %w", err)
			}
			if !exists {
				return coupon.ErrNotFound
			}
			return coupon.ErrExhausted
		}

		var userLimit int
		if err := tx.QueryRow(ctx, `SELECT user_limit FROM coupons WHERE code = $1`, code).Scan(&userLimit); err != nil {
			return fmt.Errorf("postgres: redeem coupon: %w", err)
		}
		tag, err = tx.Exec(ctx, `
			INSERT INTO coupon_redemptions (code, user_id, count) VALUES ($1, $2, 1)
			ON CONFLICT (code, user_id) DO UPDATE SET count = coupon_redemptions.count + 1
			WHERE $3 = 0 OR coupon_redemptions.count < $3`,
			code, userID, userLimit)
		if err != nil {
			return fmt.Errorf("postgres: redeem coupon: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrExhausted
		}
		return nil
	})
}

func (r *CouponRepository) Release(ctx context.Context, code, userID string) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE coupons SET used_count = GREATEST(used_count - 1, 0), updated_at = now()
			WHERE code = $1`, code); err != nil {
			return fmt.Errorf("postgres: release coupon: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE coupon_redemptions SET count = GREATEST(count - 1, 0)
			WHERE code = $1 AND user_id = $2`, code, userID); err != nil {
			return fmt.Errorf("postgres: release coupon: %w", err)
		}
		return nil
	})
}
