package money

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrNegativeAmount = errors.New("money: amount must be zero or greater")

// Cents returns the amount in minor units after rounding to the currency scale.
func Cents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromCents builds a two-decimal amount from minor units.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// Allocate splits total across weights proportionally using the largest-remainder
// method, so the returned parts always sum to total exactly with no minor-unit
// drift. If every weight is zero the total is spread evenly, leftovers going to
// the earliest parts.
func Allocate(total decimal.Decimal, weights []decimal.Decimal) ([]decimal.Decimal, error) {
	if total.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if len(weights) == 0 {
		return nil, nil
	}

	totalCents := Cents(total)
	n := int64(len(weights))

	weightCents := make([]int64, len(weights))
	var sum int64
	for i, w := range weights {
		if w.IsNegative() {
			return nil, ErrNegativeAmount
		}
		weightCents[i] = Cents(w)
		sum += weightCents[i]
	}

	parts := make([]int64, len(weights))
	rems := make([]int64, len(weights))
	var assigned int64
	for i := range parts {
		if sum == 0 {
			parts[i] = totalCents / n
			rems[i] = 1
		} else {
			parts[i] = totalCents * weightCents[i] / sum
			rems[i] = totalCents * weightCents[i] % sum
		}
		assigned += parts[i]
	}

	// Hand the leftover cents to the largest remainders; earlier index wins ties.
	order := make([]int, len(parts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rems[order[a]] > rems[order[b]]
	})
	for i := int64(0); i < totalCents-assigned; i++ {
		parts[order[i]]++
	}

	out := make([]decimal.Decimal, len(parts))
	for i, c := range parts {
		out[i] = FromCents(c)
	}
	return out, nil
}
