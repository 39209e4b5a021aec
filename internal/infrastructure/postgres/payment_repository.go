package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zestmarket/marketplace/internal/domain/payment"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Insert relies on the unique constraints on id, idempotency_key and
// transaction_id to reject duplicate attempts. An empty transaction id is
// stored as NULL so the partial unique index skips it.
func (r *PaymentRepository) Insert(ctx context.Context, p *payment.Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, gateway, amount, currency, status, attempt,
		                      transaction_id, idempotency_key, gateway_response,
		                      failure_reason, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OrderID, p.Gateway, p.Amount, p.Currency, string(p.Status), p.Attempt,
		p.TransactionID, p.IdempotencyKey, []byte(p.GatewayResponse),
		p.FailureReason, p.ProcessedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrConflict
		}
		return fmt.Errorf("postgres: insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $2, transaction_id = NULLIF($3, ''),
		                    gateway_response = $4, failure_reason = $5,
		                    processed_at = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, string(p.Status), p.TransactionID, []byte(p.GatewayResponse),
		p.FailureReason, p.ProcessedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrConflict
		}
		return fmt.Errorf("postgres: update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

const paymentColumns = `id, order_id, gateway, amount, currency, status, attempt,
       COALESCE(transaction_id, ''), idempotency_key, gateway_response,
       failure_reason, processed_at, created_at, updated_at`

func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key)
}

func (r *PaymentRepository) LatestByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.findOne(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1 ORDER BY attempt DESC, created_at DESC LIMIT 1`, orderID)
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1 ORDER BY attempt, created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payments: %w", err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate payments: %w", err)
	}
	return out, nil
}

func (r *PaymentRepository) CountByOrder(ctx context.Context, orderID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE order_id = $1`, orderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count payments: %w", err)
	}
	return count, nil
}

func (r *PaymentRepository) findOne(ctx context.Context, sql string, args ...any) (*payment.Payment, error) {
	row := r.pool.QueryRow(ctx, sql, args...)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	p := &payment.Payment{}
	var status string
	var response []byte
	err := row.Scan(&p.ID, &p.OrderID, &p.Gateway, &p.Amount, &p.Currency, &status, &p.Attempt,
		&p.TransactionID, &p.IdempotencyKey, &response,
		&p.FailureReason, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan payment: %w", err)
	}
	p.Status = payment.Status(status)
	p.GatewayResponse = response
	return p, nil
}
