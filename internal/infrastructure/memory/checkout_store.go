package memory

import (
	"context"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
)

// CheckoutStore composes the catalog and order repositories into the two
// transactional checkout operations. There is no shared transaction in memory;
// atomicity comes from the all-or-nothing Reserve plus compensation when the
// second step fails.
type CheckoutStore struct {
	catalog *CatalogRepository
	orders  *OrderRepository
}

func NewCheckoutStore(catalog *CatalogRepository, orders *OrderRepository) *CheckoutStore {
	return &CheckoutStore{catalog: catalog, orders: orders}
}

func (s *CheckoutStore) CreateOrder(ctx context.Context, o *order.Order, lines []catalog.StockLine) error {
	if err := s.catalog.Reserve(ctx, lines); err != nil {
		return err
	}
	if err := s.orders.Insert(ctx, o); err != nil {
		// Hand the reservation back; the order never existed.
		_ = s.catalog.Release(ctx, lines)
		return err
	}
	return nil
}

func (s *CheckoutStore) CancelOrder(ctx context.Context, o *order.Order, restock []catalog.StockLine) error {
	if err := s.orders.Update(ctx, o); err != nil {
		return err
	}
	return s.catalog.Release(ctx, restock)
}
