package catalog

import "context"

type Repository interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	SaveProduct(ctx context.Context, p *Product) error
	GetSeller(ctx context.Context, id string) (*Seller, error)
	SaveSeller(ctx context.Context, s *Seller) error
	// Reserve decrements stock for every line or none of them; a failure
	// reports the first line that could not be satisfied.
	Reserve(ctx context.Context, lines []StockLine) error
	// Release returns previously reserved quantities to stock.
	Release(ctx context.Context, lines []StockLine) error
}
