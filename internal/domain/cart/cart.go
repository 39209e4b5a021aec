package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
)

var (
	ErrEmpty           = errors.New("cart: cart is empty")
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")
	ErrInvalidPrice    = errors.New("cart: unit price must be zero or greater")
)

// Line is one cart entry carrying the price observed when the item was added.
type Line struct {
	ProductID   string
	VariationID string
	SellerID    string
	Title       string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is the immutable cart state captured at checkout time. It is the
// single value threaded through coupon validation, stock reservation and order
// splitting; there is no hidden session cart behind it.
type Snapshot struct {
	BuyerID    string
	Lines      []Line
	CapturedAt time.Time
}

func NewSnapshot(buyerID string, lines []Line, now time.Time) (Snapshot, error) {
	if len(lines) == 0 {
		return Snapshot{}, ErrEmpty
	}
	copied := make([]Line, len(lines))
	copy(copied, lines)
	for _, l := range copied {
		if l.Quantity <= 0 {
			return Snapshot{}, ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return Snapshot{}, ErrInvalidPrice
		}
	}
	return Snapshot{BuyerID: buyerID, Lines: copied, CapturedAt: now.UTC()}, nil
}

func (s Snapshot) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range s.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// StockLines maps the snapshot onto the reservation units the catalog expects.
func (s Snapshot) StockLines() []catalog.StockLine {
	out := make([]catalog.StockLine, 0, len(s.Lines))
	for _, l := range s.Lines {
		out = append(out, catalog.StockLine{
			ProductID:   l.ProductID,
			VariationID: l.VariationID,
			Quantity:    l.Quantity,
		})
	}
	return out
}
