package fulfillment

import (
	"context"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
)

// IDGenerator produces entity identifiers.
type IDGenerator interface {
	NewID() string
}

// Store commits the order cancellation and the stock restore as one unit.
type Store interface {
	CancelOrder(ctx context.Context, o *order.Order, restock []catalog.StockLine) error
}
