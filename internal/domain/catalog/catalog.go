package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("catalog: product not found")
	ErrSellerNotFound  = errors.New("catalog: seller not found")
	ErrOutOfStock      = errors.New("catalog: insufficient stock")
	ErrInvalidQuantity = errors.New("catalog: quantity must be greater than zero")
)

// OutOfStockError reports which product (and variation, if any) lost the race,
// so callers can act without re-deriving state. errors.Is(err, ErrOutOfStock)
// holds for every instance.
type OutOfStockError struct {
	ProductID   string
	VariationID string
}

func (e *OutOfStockError) Error() string {
	if e.VariationID != "" {
		return fmt.Sprintf("catalog: insufficient stock for product %s variation %s", e.ProductID, e.VariationID)
	}
	return fmt.Sprintf("catalog: insufficient stock for product %s", e.ProductID)
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// Variation tracks its own sku, price and stock separately from the parent row.
type Variation struct {
	ID    string
	Name  string
	Value string
	SKU   string
	Price decimal.Decimal
	Stock int
}

type Product struct {
	ID         string
	SellerID   string
	Title      string
	SKU        string
	Price      decimal.Decimal
	Stock      int
	Active     bool
	Variations []Variation
	UpdatedAt  time.Time
}

// FindVariation looks up a variation row by id.
func (p *Product) FindVariation(id string) (Variation, bool) {
	for _, v := range p.Variations {
		if v.ID == id {
			return v, true
		}
	}
	return Variation{}, false
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Variations = append([]Variation(nil), p.Variations...)
	return &clone
}

// PayoutDetails is the seller's settlement destination as an explicit value
// type rather than an opaque blob.
type PayoutDetails struct {
	Method     string
	AccountRef string
}

type Seller struct {
	ID             string
	ShopName       string
	PayoutDetails  PayoutDetails
	CommissionRate *decimal.Decimal // nil means the platform default applies
	Active         bool
}

func (s *Seller) Clone() *Seller {
	if s == nil {
		return nil
	}
	clone := *s
	if s.CommissionRate != nil {
		r := *s.CommissionRate
		clone.CommissionRate = &r
	}
	return &clone
}

// StockLine is one reservation unit, scoped to a product or variation row.
type StockLine struct {
	ProductID   string
	VariationID string
	Quantity    int
}
