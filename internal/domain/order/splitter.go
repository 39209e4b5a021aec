package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zestmarket/marketplace/internal/domain/cart"
	"github.com/zestmarket/marketplace/internal/domain/coupon"
	"github.com/zestmarket/marketplace/internal/domain/money"
)

// BuildInput carries everything needed to assemble the priced aggregate.
// Tax and shipping are order-level; the discount has already been computed by
// the coupon rules against this cart.
type BuildInput struct {
	ID         string
	Number     string
	Currency   string
	Cart       cart.Snapshot
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	Discount   coupon.Discount
	CouponCode string
	Billing    Address
	Delivery   Address
	Notes      string
	NewItemID  func() string
	Now        time.Time
}

// Build groups the cart by seller (first-seen seller order, original line order
// within each group), snapshots title/sku/unit price into the items, and
// allocates the merchandise discount across sellers proportionally to their
// subtotal share with largest-remainder rounding, so the allocations sum to the
// order discount exactly.
func Build(in BuildInput) (*Order, error) {
	if len(in.Cart.Lines) == 0 {
		return nil, cart.ErrEmpty
	}
	if err := in.Billing.Validate(); err != nil {
		return nil, err
	}
	if err := in.Delivery.Validate(); err != nil {
		return nil, err
	}

	subtotal := in.Cart.Subtotal()
	if in.Discount.ItemsAmount.GreaterThan(subtotal) {
		return nil, fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrTotalMismatch, in.Discount.ItemsAmount, subtotal)
	}
	if in.Discount.ShippingAmount.GreaterThan(in.Shipping) {
		return nil, fmt.Errorf("%w: shipping discount %s exceeds shipping %s", ErrTotalMismatch, in.Discount.ShippingAmount, in.Shipping)
	}

	sellerOrder := make([]string, 0, 2)
	bySeller := make(map[string][]cart.Line)
	for _, l := range in.Cart.Lines {
		if _, seen := bySeller[l.SellerID]; !seen {
			sellerOrder = append(sellerOrder, l.SellerID)
		}
		bySeller[l.SellerID] = append(bySeller[l.SellerID], l)
	}

	now := in.Now.UTC()
	items := make([]Item, 0, len(in.Cart.Lines))
	groups := make([]SellerGroup, 0, len(sellerOrder))
	weights := make([]decimal.Decimal, 0, len(sellerOrder))
	for _, sellerID := range sellerOrder {
		groupSubtotal := decimal.Zero
		for _, l := range bySeller[sellerID] {
			items = append(items, Item{
				ID:          in.NewItemID(),
				OrderID:     in.ID,
				ProductID:   l.ProductID,
				VariationID: l.VariationID,
				SellerID:    sellerID,
				Title:       l.Title,
				SKU:         l.SKU,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				TotalPrice:  l.Total(),
				CreatedAt:   now,
			})
			groupSubtotal = groupSubtotal.Add(l.Total())
		}
		groups = append(groups, SellerGroup{SellerID: sellerID, Subtotal: groupSubtotal})
		weights = append(weights, groupSubtotal)
	}

	allocated, err := money.Allocate(in.Discount.ItemsAmount, weights)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].Discount = allocated[i]
	}

	discount := in.Discount.Total()
	o := &Order{
		ID:              in.ID,
		Number:          in.Number,
		BuyerID:         in.Cart.BuyerID,
		Status:          StatusPending,
		Currency:        in.Currency,
		Subtotal:        subtotal,
		Tax:             in.Tax,
		Shipping:        in.Shipping,
		Discount:        discount,
		Total:           subtotal.Add(in.Tax).Add(in.Shipping).Sub(discount),
		CouponCode:      in.CouponCode,
		BillingAddress:  in.Billing,
		ShippingAddress: in.Delivery,
		Items:           items,
		Groups:          groups,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.checkTotals(in.Discount.ShippingAmount); err != nil {
		return nil, err
	}
	return o, nil
}
