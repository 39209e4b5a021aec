package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zestmarket/marketplace/internal/domain/order"
)

type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*order.Order)}
}

func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return order.ErrConflict
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.orders[o.ID]
	if !exists {
		return order.ErrNotFound
	}
	// A stale aggregate may only move the order forward. A writer that lost a
	// status race gets a conflict instead of silently regressing the winner.
	if !order.CanProgress(stored.Status, o.Status) {
		return order.ErrConflict
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*order.Order, error) {
	_ = ctx
	return r.list(func(o *order.Order) bool { return o.BuyerID == buyerID }, limit, offset), nil
}

func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*order.Order, error) {
	_ = ctx
	return r.list(func(o *order.Order) bool {
		for _, g := range o.Groups {
			if g.SellerID == sellerID {
				return true
			}
		}
		return false
	}, limit, offset), nil
}

func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*order.Order, error) {
	_ = ctx
	return r.list(func(o *order.Order) bool {
		return o.Status == order.StatusPending && o.CreatedAt.Before(cutoff)
	}, 0, 0), nil
}

func (r *OrderRepository) ListShippedBefore(ctx context.Context, cutoff time.Time) ([]*order.Order, error) {
	_ = ctx
	return r.list(func(o *order.Order) bool {
		return o.Status == order.StatusShipped && o.ShippedAt != nil && o.ShippedAt.Before(cutoff)
	}, 0, 0), nil
}

// list returns clones matching the filter, newest first. limit 0 means all.
func (r *OrderRepository) list(match func(*order.Order) bool, limit, offset int) []*order.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*order.Order, 0)
	for _, o := range r.orders {
		if match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
