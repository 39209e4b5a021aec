package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: conflict")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrTrackingRequired       = errors.New("order: tracking number is required")
	ErrTotalMismatch          = errors.New("order: totals do not add up")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Item is an immutable snapshot of the purchased product line. Title, sku and
// unit price are frozen at purchase time so later catalog edits cannot rewrite
// order history.
type Item struct {
	ID          string
	OrderID     string
	ProductID   string
	VariationID string
	SellerID    string
	Title       string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	CreatedAt   time.Time
}

// SellerGroup summarizes one seller's share of the order, including the slice
// of the order discount allocated to that seller.
type SellerGroup struct {
	SellerID string
	Subtotal decimal.Decimal
	Discount decimal.Decimal
}

// Order is the aggregate root for one buyer's purchase across possibly many
// sellers. Total == Subtotal + Tax + Shipping - Discount, exact to the cent.
type Order struct {
	ID              string
	Number          string
	BuyerID         string
	Status          Status
	Currency        string
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	CouponCode      string
	BillingAddress  Address
	ShippingAddress Address
	Items           []Item
	Groups          []SellerGroup
	Notes           string
	TrackingNumber  string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	clone.Groups = append([]SellerGroup(nil), o.Groups...)
	if o.ShippedAt != nil {
		t := *o.ShippedAt
		clone.ShippedAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		clone.DeliveredAt = &t
	}
	return &clone
}

// SellerIDs lists the sellers participating in this order, in group order.
func (o *Order) SellerIDs() []string {
	out := make([]string, 0, len(o.Groups))
	for _, g := range o.Groups {
		out = append(out, g.SellerID)
	}
	return out
}

// Terminal reports whether the order can never change status again.
func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusCancelled, StatusRefunded, StatusDelivered:
		return true
	}
	return false
}

// MarkPaid applies the payment-completed transition.
func (o *Order) MarkPaid() error {
	return o.transition(func(s orderState) (orderState, error) { return s.PaymentCompleted(o) })
}

// Cancel releases a yet-unpaid order.
func (o *Order) Cancel() error {
	return o.transition(func(s orderState) (orderState, error) { return s.Cancel(o) })
}

// StartProcessing records that a seller began fulfillment.
func (o *Order) StartProcessing() error {
	return o.transition(func(s orderState) (orderState, error) { return s.StartProcessing(o) })
}

// Ship requires a tracking number and stamps shipped_at.
func (o *Order) Ship(tracking string, now time.Time) error {
	return o.transition(func(s orderState) (orderState, error) { return s.Ship(o, tracking, now) })
}

// Deliver stamps delivered_at.
func (o *Order) Deliver(now time.Time) error {
	return o.transition(func(s orderState) (orderState, error) { return s.Deliver(o, now) })
}

// Refund moves a paid order into its terminal refunded state.
func (o *Order) Refund() error {
	return o.transition(func(s orderState) (orderState, error) { return s.Refund(o) })
}

func (o *Order) transition(apply func(orderState) (orderState, error)) error {
	current, err := stateFor(o.Status)
	if err != nil {
		return err
	}
	next, err := apply(current)
	if err != nil {
		return err
	}
	o.Status = next.Status()
	o.touch()
	return nil
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

// checkTotals enforces the aggregate money invariant at build time. The
// shipping share of the discount stays order-level and is therefore excluded
// from the per-seller allocation check.
func (o *Order) checkTotals(shippingDiscount decimal.Decimal) error {
	want := o.Subtotal.Add(o.Tax).Add(o.Shipping).Sub(o.Discount)
	if !o.Total.Equal(want) {
		return fmt.Errorf("%w: total %s, parts %s", ErrTotalMismatch, o.Total, want)
	}
	items := decimal.Zero
	for _, it := range o.Items {
		items = items.Add(it.TotalPrice)
	}
	if !items.Equal(o.Subtotal) {
		return fmt.Errorf("%w: item sum %s, subtotal %s", ErrTotalMismatch, items, o.Subtotal)
	}
	allocated := decimal.Zero
	for _, g := range o.Groups {
		allocated = allocated.Add(g.Discount)
	}
	if !allocated.Equal(o.Discount.Sub(shippingDiscount)) {
		return fmt.Errorf("%w: allocated discount %s", ErrTotalMismatch, allocated)
	}
	return nil
}
