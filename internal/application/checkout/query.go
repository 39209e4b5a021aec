package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/order"
)

// GetOrderUseCase fetches one order for an actor allowed to see it. A plain
// read; spans and metrics live at the transport for these.
type GetOrderUseCase struct {
	orders order.Repository
}

func NewGetOrderUseCase(orders order.Repository) *GetOrderUseCase {
	return &GetOrderUseCase{orders: orders}
}

type GetOrderInput struct {
	Actor   access.Actor
	OrderID string
}

func (uc *GetOrderUseCase) Execute(ctx context.Context, in GetOrderInput) (*order.Order, error) {
	if in.OrderID == "" {
		return nil, fmt.Errorf("%w: order id is required", order.ErrNotFound)
	}
	o, err := uc.orders.Get(ctx, in.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	if !in.Actor.CanViewOrder(o.BuyerID, o.SellerIDs()) {
		// Hide existence from strangers.
		return nil, order.ErrNotFound
	}
	return o, nil
}
