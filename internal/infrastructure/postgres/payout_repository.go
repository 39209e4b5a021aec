package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zestmarket/marketplace/internal/domain/payout"
)

type PayoutRepository struct {
	pool *pgxpool.Pool
}

func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

// CreateBatch claims the order_settlements row first; its primary key is the
// arbiter, so two settlement attempts for the same order cannot both insert
// payouts even across processes.
func (r *PayoutRepository) CreateBatch(ctx context.Context, orderID string, payouts []*payout.Payout) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO order_settlements (order_id) VALUES ($1)`, orderID); err != nil {
			if isUniqueViolation(err) {
				return payout.ErrAlreadySettled
			}
			return fmt.Errorf("postgres: claim settlement: %w", err)
		}
		for _, p := range payouts {
			if _, err := tx.Exec(ctx, `
				INSERT INTO seller_payouts (id, seller_id, order_id, order_item_id, amount,
				                            commission_rate, commission_amount, net_amount,
				                            status, payout_method, processed_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				p.ID, p.SellerID, p.OrderID, p.OrderItemID, p.Amount,
				p.CommissionRate, p.CommissionAmount, p.NetAmount,
				string(p.Status), p.PayoutMethod, p.ProcessedAt, p.CreatedAt); err != nil {
				return fmt.Errorf("postgres: insert payout: %w", err)
			}
		}
		return nil
	})
}

func (r *PayoutRepository) Update(ctx context.Context, p *payout.Payout) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE seller_payouts SET status = $2, payout_method = $3, processed_at = $4
		WHERE id = $1`,
		p.ID, string(p.Status), p.PayoutMethod, p.ProcessedAt)
	if err != nil {
		return fmt.Errorf("postgres: update payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payout.ErrNotFound
	}
	return nil
}

func (r *PayoutRepository) ListByOrder(ctx context.Context, orderID string) ([]*payout.Payout, error) {
	return r.list(ctx, `
		SELECT id, seller_id, order_id, order_item_id, amount, commission_rate,
		       commission_amount, net_amount, status, payout_method, processed_at, created_at
		FROM seller_payouts WHERE order_id = $1 ORDER BY created_at, id`, orderID)
}

func (r *PayoutRepository) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*payout.Payout, error) {
	return r.list(ctx, `
		SELECT id, seller_id, order_id, order_item_id, amount, commission_rate,
		       commission_amount, net_amount, status, payout_method, processed_at, created_at
		FROM seller_payouts WHERE seller_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		sellerID, normalizeLimit(limit), offset)
}

func (r *PayoutRepository) list(ctx context.Context, sql string, args ...any) ([]*payout.Payout, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payouts: %w", err)
	}
	defer rows.Close()

	var out []*payout.Payout
	for rows.Next() {
		p := &payout.Payout{}
		var status string
		if err := rows.Scan(&p.ID, &p.SellerID, &p.OrderID, &p.OrderItemID, &p.Amount, &p.CommissionRate,
			&p.CommissionAmount, &p.NetAmount, &status, &p.PayoutMethod, &p.ProcessedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		p.Status = payout.Status(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate payouts: %w", err)
	}
	return out, nil
}
