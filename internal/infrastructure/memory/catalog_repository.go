package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
)

// CatalogRepository keeps products and sellers in process memory. All stock
// mutation happens under one lock, so a reservation is atomic across its
// lines: either every decrement applies or none does.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[string]*catalog.Product
	sellers  map[string]*catalog.Seller
}

func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		products: make(map[string]*catalog.Product),
		sellers:  make(map[string]*catalog.Seller),
	}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *CatalogRepository) SaveProduct(ctx context.Context, p *catalog.Product) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("catalog repository: product id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ID] = p.Clone()
	return nil
}

func (r *CatalogRepository) GetSeller(ctx context.Context, id string) (*catalog.Seller, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sellers[id]
	if !ok {
		return nil, catalog.ErrSellerNotFound
	}
	return s.Clone(), nil
}

func (r *CatalogRepository) SaveSeller(ctx context.Context, s *catalog.Seller) error {
	_ = ctx
	if s == nil || s.ID == "" {
		return fmt.Errorf("catalog repository: seller id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sellers[s.ID] = s.Clone()
	return nil
}

// Reserve decrements stock for every line or none. The mutation is staged on
// clones and committed only after every line has passed its stock check.
func (r *CatalogRepository) Reserve(ctx context.Context, lines []catalog.StockLine) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	staged, err := r.stage(lines, -1)
	if err != nil {
		return err
	}
	for id, p := range staged {
		r.products[id] = p
	}
	return nil
}

// Release returns previously reserved quantities.
func (r *CatalogRepository) Release(ctx context.Context, lines []catalog.StockLine) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	staged, err := r.stage(lines, +1)
	if err != nil {
		return err
	}
	for id, p := range staged {
		r.products[id] = p
	}
	return nil
}

// stage applies sign*quantity per line onto cloned products, accumulating
// repeated lines for the same row, and checks stock when decrementing.
func (r *CatalogRepository) stage(lines []catalog.StockLine, sign int) (map[string]*catalog.Product, error) {
	staged := make(map[string]*catalog.Product, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, catalog.ErrInvalidQuantity
		}
		p, ok := staged[l.ProductID]
		if !ok {
			stored, found := r.products[l.ProductID]
			if !found {
				return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, l.ProductID)
			}
			p = stored.Clone()
			staged[l.ProductID] = p
		}
		delta := sign * l.Quantity
		if l.VariationID != "" {
			idx := -1
			for i := range p.Variations {
				if p.Variations[i].ID == l.VariationID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("%w: variation %s", catalog.ErrNotFound, l.VariationID)
			}
			if p.Variations[idx].Stock+delta < 0 {
				return nil, &catalog.OutOfStockError{ProductID: l.ProductID, VariationID: l.VariationID}
			}
			p.Variations[idx].Stock += delta
			continue
		}
		if p.Stock+delta < 0 {
			return nil, &catalog.OutOfStockError{ProductID: l.ProductID}
		}
		p.Stock += delta
	}
	return staged, nil
}
