package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
)

// CheckoutStore runs the stock reservation and the order write in one
// database transaction, so a failed insert rolls the decrements back without
// compensation logic.
type CheckoutStore struct {
	pool *pgxpool.Pool
}

func NewCheckoutStore(pool *pgxpool.Pool) *CheckoutStore {
	return &CheckoutStore{pool: pool}
}

func (s *CheckoutStore) CreateOrder(ctx context.Context, o *order.Order, lines []catalog.StockLine) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := reserveLines(ctx, tx, lines); err != nil {
			return err
		}
		return insertOrder(ctx, tx, o)
	})
}

func (s *CheckoutStore) CancelOrder(ctx context.Context, o *order.Order, restock []catalog.StockLine) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateOrder(ctx, tx, o); err != nil {
			return err
		}
		return releaseLines(ctx, tx, restock)
	})
}
