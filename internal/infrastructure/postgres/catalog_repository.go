package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the statement
// helpers run standalone or inside a checkout transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	p := &catalog.Product{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, seller_id, title, sku, price, stock, active, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.SellerID, &p.Title, &p.SKU, &p.Price, &p.Stock, &p.Active, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get product: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, value, sku, price, stock
		FROM product_variations WHERE product_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: get variations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v catalog.Variation
		if err := rows.Scan(&v.ID, &v.Name, &v.Value, &v.SKU, &v.Price, &v.Stock); err != nil {
			return nil, fmt.Errorf("postgres: scan variation: %w", err)
		}
		p.Variations = append(p.Variations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate variations: %w", err)
	}
	return p, nil
}

func (r *CatalogRepository) SaveProduct(ctx context.Context, p *catalog.Product) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO products (id, seller_id, title, sku, price, stock, active, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO UPDATE SET
				seller_id = EXCLUDED.seller_id, title = EXCLUDED.title,
				sku = EXCLUDED.sku, price = EXCLUDED.price, stock = EXCLUDED.stock,
				active = EXCLUDED.active, updated_at = now()`,
			p.ID, p.SellerID, p.Title, p.SKU, p.Price, p.Stock, p.Active)
		if err != nil {
			return fmt.Errorf("postgres: save product: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM product_variations WHERE product_id = $1`, p.ID); err != nil {
			return fmt.Errorf("postgres: clear variations: %w", err)
		}
		for _, v := range p.Variations {
			if _, err := tx.Exec(ctx, `
				INSERT INTO product_variations (id, product_id, name, value, sku, price, stock)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				v.ID, p.ID, v.Name, v.Value, v.SKU, v.Price, v.Stock); err != nil {
				return fmt.Errorf("postgres: save variation: %w", err)
			}
		}
		return nil
	})
}

func (r *CatalogRepository) GetSeller(ctx context.Context, id string) (*catalog.Seller, error) {
	s := &catalog.Seller{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, shop_name, payout_method, payout_account_ref, commission_rate, active
		FROM sellers WHERE id = $1`, id).
		Scan(&s.ID, &s.ShopName, &s.PayoutDetails.Method, &s.PayoutDetails.AccountRef, &s.CommissionRate, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrSellerNotFound
		}
		return nil, fmt.Errorf("postgres: get seller: %w", err)
	}
	return s, nil
}

func (r *CatalogRepository) SaveSeller(ctx context.Context, s *catalog.Seller) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sellers (id, shop_name, payout_method, payout_account_ref, commission_rate, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			shop_name = EXCLUDED.shop_name, payout_method = EXCLUDED.payout_method,
			payout_account_ref = EXCLUDED.payout_account_ref,
			commission_rate = EXCLUDED.commission_rate, active = EXCLUDED.active`,
		s.ID, s.ShopName, s.PayoutDetails.Method, s.PayoutDetails.AccountRef, s.CommissionRate, s.Active)
	if err != nil {
		return fmt.Errorf("postgres: save seller: %w", err)
	}
	return nil
}

func (r *CatalogRepository) Reserve(ctx context.Context, lines []catalog.StockLine) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		return reserveLines(ctx, tx, lines)
	})
}

func (r *CatalogRepository) Release(ctx context.Context, lines []catalog.StockLine) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		return releaseLines(ctx, tx, lines)
	})
}

// reserveLines decrements stock with row-conditional updates; the WHERE clause
// closes the check-then-act race. Zero rows affected means the row is either
// missing or short on stock; both surface as OutOfStock.
func reserveLines(ctx context.Context, q querier, lines []catalog.StockLine) error {
	for _, l := range lines {
		if l.Quantity <= 0 {
			return catalog.ErrInvalidQuantity
		}
		var (
			tag pgconn.CommandTag
			err error
		)
		if l.VariationID != "" {
			tag, err = q.Exec(ctx, `
				UPDATE product_variations SET stock = stock - $1
				WHERE id = $2 AND product_id = $3 AND stock >= $1`,
				l.Quantity, l.VariationID, l.ProductID)
		} else {
			tag, err = q.Exec(ctx, `
				UPDATE products SET stock = stock - $1, updated_at = now()
				WHERE id = $2 AND stock >= $1`,
				l.Quantity, l.ProductID)
		}
		if err != nil {
			return fmt.Errorf("postgres: reserve stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &catalog.OutOfStockError{ProductID: l.ProductID, VariationID: l.VariationID}
		}
	}
	return nil
}

func releaseLines(ctx context.Context, q querier, lines []catalog.StockLine) error {
	for _, l := range lines {
		var err error
		if l.VariationID != "" {
			_, err = q.Exec(ctx, `
				UPDATE product_variations SET stock = stock + $1
				WHERE id = $2 AND product_id = $3`,
				l.Quantity, l.VariationID, l.ProductID)
		} else {
			_, err = q.Exec(ctx, `
				UPDATE products SET stock = stock + $1, updated_at = now()
				WHERE id = $2`,
				l.Quantity, l.ProductID)
		}
		if err != nil {
			return fmt.Errorf("postgres: release stock: %w", err)
		}
	}
	return nil
}
