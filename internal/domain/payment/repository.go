package payment

import "context"

type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	// LatestByOrder returns the most recent attempt for the order.
	LatestByOrder(ctx context.Context, orderID string) (*Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Payment, error)
	CountByOrder(ctx context.Context, orderID string) (int, error)
}
