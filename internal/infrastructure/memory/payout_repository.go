package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zestmarket/marketplace/internal/domain/payout"
)

// PayoutRepository holds the commission ledger. The per-order settled marker
// makes CreateBatch the exactly-once arbiter for settlement.
type PayoutRepository struct {
	mu      sync.RWMutex
	payouts map[string]*payout.Payout
	settled map[string][]string // orderID -> payout ids in creation order
}

func NewPayoutRepository() *PayoutRepository {
	return &PayoutRepository{
		payouts: make(map[string]*payout.Payout),
		settled: make(map[string][]string),
	}
}

func (r *PayoutRepository) CreateBatch(ctx context.Context, orderID string, payouts []*payout.Payout) error {
	_ = ctx
	if orderID == "" {
		return fmt.Errorf("payout repository: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.settled[orderID]; exists {
		return payout.ErrAlreadySettled
	}

	ids := make([]string, 0, len(payouts))
	for _, p := range payouts {
		r.payouts[p.ID] = p.Clone()
		ids = append(ids, p.ID)
	}
	r.settled[orderID] = ids
	return nil
}

func (r *PayoutRepository) Update(ctx context.Context, p *payout.Payout) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payout repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payouts[p.ID]; !exists {
		return payout.ErrNotFound
	}
	r.payouts[p.ID] = p.Clone()
	return nil
}

func (r *PayoutRepository) ListByOrder(ctx context.Context, orderID string) ([]*payout.Payout, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.settled[orderID]
	if !ok {
		return nil, nil
	}
	out := make([]*payout.Payout, 0, len(ids))
	for _, id := range ids {
		if p, found := r.payouts[id]; found {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (r *PayoutRepository) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*payout.Payout, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*payout.Payout, 0)
	for _, p := range r.payouts {
		if p.SellerID == sellerID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
