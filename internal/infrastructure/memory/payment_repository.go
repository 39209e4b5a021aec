package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zestmarket/marketplace/internal/domain/payment"
)

// PaymentRepository enforces uniqueness on id, transaction id and idempotency
// key at insert time, closing the double-charge window for concurrent intent
// creation.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*payment.Payment
	byTxn    map[string]string
	byKey    map[string]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*payment.Payment),
		byTxn:    make(map[string]string),
		byKey:    make(map[string]string),
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *payment.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; exists {
		return payment.ErrConflict
	}
	if p.TransactionID != "" {
		if _, exists := r.byTxn[p.TransactionID]; exists {
			return payment.ErrConflict
		}
	}
	if p.IdempotencyKey != "" {
		if _, exists := r.byKey[p.IdempotencyKey]; exists {
			return payment.ErrConflict
		}
	}

	r.payments[p.ID] = p.Clone()
	if p.TransactionID != "" {
		r.byTxn[p.TransactionID] = p.ID
	}
	if p.IdempotencyKey != "" {
		r.byKey[p.IdempotencyKey] = p.ID
	}
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; !exists {
		return payment.ErrNotFound
	}
	r.payments[p.ID] = p.Clone()
	if p.TransactionID != "" {
		r.byTxn[p.TransactionID] = p.ID
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	_ = ctx
	if transactionID == "" {
		return nil, payment.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTxn[transactionID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	p, ok := r.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	_ = ctx
	if key == "" {
		return nil, payment.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, payment.ErrNotFound
	}
	p, ok := r.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) LatestByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	list, err := r.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, payment.ErrNotFound
	}
	return list[len(list)-1], nil
}

// ListByOrder returns the attempts oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*payment.Payment, 0)
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempt != out[j].Attempt {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PaymentRepository) CountByOrder(ctx context.Context, orderID string) (int, error) {
	list, err := r.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
