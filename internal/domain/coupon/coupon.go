package coupon

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("coupon: not found")
	ErrInvalid   = errors.New("coupon: not applicable")
	ErrExpired   = errors.New("coupon: expired")
	ErrExhausted = errors.New("coupon: usage limit reached")
)

type Type string

const (
	TypePercentage   Type = "percentage"
	TypeFixedAmount  Type = "fixed_amount"
	TypeFreeShipping Type = "free_shipping"
)

// Coupon is the rule set; counters are enforced atomically by the repository,
// never by a read-modify-write on this struct. A zero UsageLimit or UserLimit
// means unlimited. used_count <= usage_limit holds at all times.
type Coupon struct {
	ID              string
	Code            string
	Name            string
	Type            Type
	Value           decimal.Decimal
	MinimumAmount   decimal.Decimal
	MaximumDiscount decimal.Decimal
	UsageLimit      int
	UsedCount       int
	UserLimit       int
	ValidFrom       time.Time
	ValidUntil      time.Time
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Discount is the evaluation outcome. ShippingAmount is the waived shipping for
// free_shipping coupons; ItemsAmount reduces the merchandise subtotal. Both feed
// the order's single discount figure.
type Discount struct {
	ItemsAmount    decimal.Decimal
	ShippingAmount decimal.Decimal
}

func (d Discount) Total() decimal.Decimal {
	return d.ItemsAmount.Add(d.ShippingAmount)
}

// Evaluate runs the stateless rule checks in their fixed sequence and computes
// the discount. userRedemptions is how often this user has already redeemed the
// code. For free_shipping a positive Value caps the waived shipping; zero waives
// it entirely.
func (c *Coupon) Evaluate(subtotal, shipping decimal.Decimal, userRedemptions int, now time.Time) (Discount, error) {
	if c == nil || !c.Active {
		return Discount{}, ErrInvalid
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return Discount{}, ErrExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return Discount{}, ErrExhausted
	}
	if c.UserLimit > 0 && userRedemptions >= c.UserLimit {
		return Discount{}, ErrExhausted
	}
	if c.MinimumAmount.IsPositive() && subtotal.LessThan(c.MinimumAmount) {
		return Discount{}, ErrInvalid
	}

	d := Discount{ItemsAmount: decimal.Zero, ShippingAmount: decimal.Zero}
	switch c.Type {
	case TypePercentage:
		amount := subtotal.Mul(c.Value).Div(decimal.NewFromInt(100)).Round(2)
		if c.MaximumDiscount.IsPositive() && amount.GreaterThan(c.MaximumDiscount) {
			amount = c.MaximumDiscount
		}
		d.ItemsAmount = amount
	case TypeFixedAmount:
		d.ItemsAmount = decimal.Min(c.Value, subtotal)
	case TypeFreeShipping:
		waived := shipping
		if c.Value.IsPositive() && waived.GreaterThan(c.Value) {
			waived = c.Value
		}
		d.ShippingAmount = waived
	default:
		return Discount{}, ErrInvalid
	}
	return d, nil
}
