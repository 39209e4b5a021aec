package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zestmarket/marketplace/internal/domain/order"
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertOrder(ctx, tx, o)
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, id)
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	return updateOrder(ctx, r.pool, o)
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*order.Order, error) {
	return r.listIDs(ctx, `
		SELECT id FROM orders WHERE buyer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		buyerID, normalizeLimit(limit), offset)
}

func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*order.Order, error) {
	return r.listIDs(ctx, `
		SELECT DISTINCT o.id, o.created_at FROM orders o
		JOIN order_groups g ON g.order_id = o.id
		WHERE g.seller_id = $1
		ORDER BY o.created_at DESC LIMIT $2 OFFSET $3`,
		sellerID, normalizeLimit(limit), offset)
}

func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*order.Order, error) {
	return r.listIDs(ctx, `
		SELECT id FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at`,
		string(order.StatusPending), cutoff)
}

func (r *OrderRepository) ListShippedBefore(ctx context.Context, cutoff time.Time) ([]*order.Order, error) {
	return r.listIDs(ctx, `
		SELECT id FROM orders WHERE status = $1 AND shipped_at < $2 ORDER BY shipped_at`,
		string(order.StatusShipped), cutoff)
}

func (r *OrderRepository) listIDs(ctx context.Context, sql string, args ...any) ([]*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		dest := []any{&id}
		if len(rows.FieldDescriptions()) > 1 {
			var ts time.Time
			dest = append(dest, &ts)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}

	out := make([]*order.Order, 0, len(ids))
	for _, id := range ids {
		o, err := getOrder(ctx, r.pool, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func insertOrder(ctx context.Context, q querier, o *order.Order) error {
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("postgres: marshal billing address: %w", err)
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("postgres: marshal shipping address: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO orders (id, number, buyer_id, status, currency, subtotal, tax,
		                    shipping, discount, total, coupon_code, billing_address,
		                    shipping_address, notes, tracking_number, shipped_at,
		                    delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		o.ID, o.Number, o.BuyerID, string(o.Status), o.Currency, o.Subtotal, o.Tax,
		o.Shipping, o.Discount, o.Total, o.CouponCode, billing,
		shipping, o.Notes, o.TrackingNumber, o.ShippedAt,
		o.DeliveredAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrConflict
		}
		return fmt.Errorf("postgres: insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variation_id, seller_id,
			                         title, sku, quantity, unit_price, total_price, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			it.ID, o.ID, it.ProductID, it.VariationID, it.SellerID,
			it.Title, it.SKU, it.Quantity, it.UnitPrice, it.TotalPrice, i, it.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert order item: %w", err)
		}
	}
	for i, g := range o.Groups {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_groups (order_id, seller_id, subtotal, discount, position)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, g.SellerID, g.Subtotal, g.Discount, i); err != nil {
			return fmt.Errorf("postgres: insert order group: %w", err)
		}
	}
	return nil
}

// updateOrder touches only the mutable columns; items and groups are frozen at
// insert time. The status predicate makes the write conditional on the stored
// status still being one the new status may legally follow, so a writer with a
// stale aggregate cannot regress a state another writer already reached.
func updateOrder(ctx context.Context, q querier, o *order.Order) error {
	sources := order.ProgressSources(o.Status)
	from := make([]string, 0, len(sources))
	for _, s := range sources {
		from = append(from, string(s))
	}

	tag, err := q.Exec(ctx, `
		UPDATE orders SET status = $2, notes = $3, tracking_number = $4,
		                  shipped_at = $5, delivered_at = $6, updated_at = $7
		WHERE id = $1 AND status = ANY($8)`,
		o.ID, string(o.Status), o.Notes, o.TrackingNumber,
		o.ShippedAt, o.DeliveredAt, o.UpdatedAt, from)
	if err != nil {
		return fmt.Errorf("postgres: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var stored string
		if serr := q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, o.ID).
			Scan(&stored); serr != nil {
			if errors.Is(serr, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("postgres: update order: %w", serr)
		}
		return order.ErrConflict
	}
	return nil
}

func getOrder(ctx context.Context, q querier, id string) (*order.Order, error) {
	o := &order.Order{}
	var status string
	var billing, shipping []byte
	err := q.QueryRow(ctx, `
		SELECT id, number, buyer_id, status, currency, subtotal, tax, shipping,
		       discount, total, coupon_code, billing_address, shipping_address,
		       notes, tracking_number, shipped_at, delivered_at, created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Number, &o.BuyerID, &status, &o.Currency, &o.Subtotal, &o.Tax, &o.Shipping,
			&o.Discount, &o.Total, &o.CouponCode, &billing, &shipping,
			&o.Notes, &o.TrackingNumber, &o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get order: %w", err)
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal billing address: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal shipping address: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, product_id, variation_id, seller_id, title, sku, quantity,
		       unit_price, total_price, created_at
		FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: get order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it := order.Item{OrderID: id}
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariationID, &it.SellerID, &it.Title,
			&it.SKU, &it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate order items: %w", err)
	}

	grows, err := q.Query(ctx, `
		SELECT seller_id, subtotal, discount
		FROM order_groups WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: get order groups: %w", err)
	}
	defer grows.Close()
	for grows.Next() {
		var g order.SellerGroup
		if err := grows.Scan(&g.SellerID, &g.Subtotal, &g.Discount); err != nil {
			return nil, fmt.Errorf("postgres: scan order group: %w", err)
		}
		o.Groups = append(o.Groups, g)
	}
	if err := grows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate order groups: %w", err)
	}
	return o, nil
}
