package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderCreatedEvent is emitted once the checkout transaction has committed.
type OrderCreatedEvent struct {
	OrderID    string
	BuyerID    string
	SellerIDs  []string
	Total      decimal.Decimal
	OccurredAt time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		SellerIDs:  o.SellerIDs(),
		Total:      o.Total,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderShippedEvent is emitted when a tracked shipment leaves the seller.
type OrderShippedEvent struct {
	OrderID        string
	BuyerID        string
	TrackingNumber string
	OccurredAt     time.Time
}

func (OrderShippedEvent) EventName() string { return "order.shipped" }

func NewOrderShippedEvent(o *Order) OrderShippedEvent {
	return OrderShippedEvent{
		OrderID:        o.ID,
		BuyerID:        o.BuyerID,
		TrackingNumber: o.TrackingNumber,
		OccurredAt:     time.Now().UTC(),
	}
}

type OrderDeliveredEvent struct {
	OrderID    string
	BuyerID    string
	OccurredAt time.Time
}

func (OrderDeliveredEvent) EventName() string { return "order.delivered" }

func NewOrderDeliveredEvent(o *Order) OrderDeliveredEvent {
	return OrderDeliveredEvent{OrderID: o.ID, BuyerID: o.BuyerID, OccurredAt: time.Now().UTC()}
}

type OrderCancelledEvent struct {
	OrderID    string
	BuyerID    string
	Reason     string
	OccurredAt time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order, reason string) OrderCancelledEvent {
	return OrderCancelledEvent{OrderID: o.ID, BuyerID: o.BuyerID, Reason: reason, OccurredAt: time.Now().UTC()}
}

type OrderRefundedEvent struct {
	OrderID    string
	BuyerID    string
	Amount     decimal.Decimal
	OccurredAt time.Time
}

func (OrderRefundedEvent) EventName() string { return "order.refunded" }

func NewOrderRefundedEvent(o *Order) OrderRefundedEvent {
	return OrderRefundedEvent{OrderID: o.ID, BuyerID: o.BuyerID, Amount: o.Total, OccurredAt: time.Now().UTC()}
}
