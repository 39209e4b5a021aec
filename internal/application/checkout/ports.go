package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
)

// IDGenerator produces entity identifiers.
type IDGenerator interface {
	NewID() string
}

// NumberGenerator produces human-facing order numbers.
type NumberGenerator interface {
	NewNumber(now time.Time) string
}

// Store commits the stock reservation and the order insert as one unit: either
// every line is reserved and the order exists, or neither happened.
type Store interface {
	CreateOrder(ctx context.Context, o *order.Order, lines []catalog.StockLine) error
}

// Pricing carries the order-level charge rules taken from configuration.
type Pricing struct {
	Currency              string
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

func (p Pricing) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee
}

func (p Pricing) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.TaxRate).Round(2)
}
