package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/zestmarket/marketplace/internal/domain/payout"
)

// VoidPending terminates every still-pending payout of an order, called when
// the order is refunded. Payouts past pending are left for external
// reconciliation. Returns the number of payouts voided.
func VoidPending(ctx context.Context, payouts payout.Repository, orderID string) (int, error) {
	list, err := payouts.ListByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, payout.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	voided := 0
	for _, p := range list {
		if p.Status != payout.StatusPending {
			continue
		}
		if err := p.Void(); err != nil {
			return voided, err
		}
		if err := payouts.Update(ctx, p); err != nil {
			return voided, fmt.Errorf("%w: %w", ErrRepository, err)
		}
		voided++
	}
	return voided, nil
}
