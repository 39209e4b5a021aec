package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func validCoupon(typ Type) *Coupon {
	now := time.Now()
	return &Coupon{
		ID:         "c1",
		Code:       "SAVE10",
		Type:       typ,
		Value:      d("10"),
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		Active:     true,
	}
}

func TestEvaluatePercentage(t *testing.T) {
	c := validCoupon(TypePercentage)

	disc, err := c.Evaluate(d("45.00"), d("10.00"), 0, time.Now())
	require.NoError(t, err)
	assert.True(t, disc.ItemsAmount.Equal(d("4.50")))
	assert.True(t, disc.ShippingAmount.IsZero())
	assert.True(t, disc.Total().Equal(d("4.50")))
}

func TestEvaluatePercentageCap(t *testing.T) {
	c := validCoupon(TypePercentage)
	c.MaximumDiscount = d("3.00")

	disc, err := c.Evaluate(d("45.00"), d("10.00"), 0, time.Now())
	require.NoError(t, err)
	assert.True(t, disc.ItemsAmount.Equal(d("3.00")))
}

func TestEvaluateFixedAmountClampsToSubtotal(t *testing.T) {
	c := validCoupon(TypeFixedAmount)
	c.Value = d("50.00")

	disc, err := c.Evaluate(d("20.00"), d("10.00"), 0, time.Now())
	require.NoError(t, err)
	assert.True(t, disc.ItemsAmount.Equal(d("20.00")))
}

func TestEvaluateFreeShipping(t *testing.T) {
	c := validCoupon(TypeFreeShipping)
	c.Value = decimal.Zero

	disc, err := c.Evaluate(d("20.00"), d("10.00"), 0, time.Now())
	require.NoError(t, err)
	assert.True(t, disc.ItemsAmount.IsZero())
	assert.True(t, disc.ShippingAmount.Equal(d("10.00")))

	c.Value = d("6.00") // cap on the waived amount
	disc, err = c.Evaluate(d("20.00"), d("10.00"), 0, time.Now())
	require.NoError(t, err)
	assert.True(t, disc.ShippingAmount.Equal(d("6.00")))
}

func TestEvaluateRejections(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		mutate  func(*Coupon)
		used    int
		want    error
		atShift time.Duration
	}{
		{name: "inactive", mutate: func(c *Coupon) { c.Active = false }, want: ErrInvalid},
		{name: "not yet valid", atShift: -2 * time.Hour, mutate: func(*Coupon) {}, want: ErrExpired},
		{name: "expired", atShift: 2 * time.Hour, mutate: func(*Coupon) {}, want: ErrExpired},
		{name: "usage limit reached", mutate: func(c *Coupon) { c.UsageLimit = 5; c.UsedCount = 5 }, want: ErrExhausted},
		{name: "user limit reached", mutate: func(c *Coupon) { c.UserLimit = 1 }, used: 1, want: ErrExhausted},
		{name: "below minimum", mutate: func(c *Coupon) { c.MinimumAmount = d("100.00") }, want: ErrInvalid},
		{name: "unknown type", mutate: func(c *Coupon) { c.Type = "bogus" }, want: ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCoupon(TypePercentage)
			tt.mutate(c)
			_, err := c.Evaluate(d("45.00"), d("10.00"), tt.used, now.Add(tt.atShift))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEvaluateZeroLimitsAreUnlimited(t *testing.T) {
	c := validCoupon(TypePercentage)
	c.UsageLimit = 0
	c.UsedCount = 1000
	c.UserLimit = 0

	_, err := c.Evaluate(d("45.00"), d("10.00"), 1000, time.Now())
	assert.NoError(t, err)
}

func TestEvaluateNilCoupon(t *testing.T) {
	var c *Coupon
	_, err := c.Evaluate(d("45.00"), d("10.00"), 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalid)
}
