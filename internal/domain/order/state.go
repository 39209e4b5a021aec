package order

import (
	"fmt"
	"time"
)

// orderState implements the state pattern for order lifecycle transitions.
// Every hook either returns the next state or ErrInvalidStateTransition; the
// terminal states (cancelled, refunded, delivered) never regress.
type orderState interface {
	Status() Status
	PaymentCompleted(o *Order) (orderState, error)
	Cancel(o *Order) (orderState, error)
	StartProcessing(o *Order) (orderState, error)
	Ship(o *Order, tracking string, now time.Time) (orderState, error)
	Deliver(o *Order, now time.Time) (orderState, error)
	Refund(o *Order) (orderState, error)
}

func stateFor(s Status) (orderState, error) {
	switch s {
	case StatusPending:
		return pendingState{baseState{StatusPending}}, nil
	case StatusPaid:
		return paidState{baseState{StatusPaid}}, nil
	case StatusProcessing:
		return processingState{baseState{StatusProcessing}}, nil
	case StatusShipped:
		return shippedState{baseState{StatusShipped}}, nil
	case StatusDelivered:
		return deliveredState{baseState{StatusDelivered}}, nil
	case StatusCancelled:
		return cancelledState{baseState{StatusCancelled}}, nil
	case StatusRefunded:
		return refundedState{baseState{StatusRefunded}}, nil
	}
	return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStateTransition, s)
}

func denied(from Status, action string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidStateTransition, action, from)
}

// baseState denies every transition; concrete states override the legal ones.
type baseState struct{ status Status }

func (b baseState) Status() Status { return b.status }

func (b baseState) PaymentCompleted(*Order) (orderState, error) {
	return nil, denied(b.status, "complete payment")
}

func (b baseState) Cancel(*Order) (orderState, error) {
	return nil, denied(b.status, "cancel")
}

func (b baseState) StartProcessing(*Order) (orderState, error) {
	return nil, denied(b.status, "start processing")
}

func (b baseState) Ship(*Order, string, time.Time) (orderState, error) {
	return nil, denied(b.status, "ship")
}

func (b baseState) Deliver(*Order, time.Time) (orderState, error) {
	return nil, denied(b.status, "deliver")
}

func (b baseState) Refund(*Order) (orderState, error) {
	return nil, denied(b.status, "refund")
}

type pendingState struct{ baseState }

func (pendingState) PaymentCompleted(*Order) (orderState, error) {
	return paidState{baseState{StatusPaid}}, nil
}

func (pendingState) Cancel(*Order) (orderState, error) {
	return cancelledState{baseState{StatusCancelled}}, nil
}

type paidState struct{ baseState }

func (paidState) StartProcessing(*Order) (orderState, error) {
	return processingState{baseState{StatusProcessing}}, nil
}

func (paidState) Refund(*Order) (orderState, error) {
	return refundedState{baseState{StatusRefunded}}, nil
}

type processingState struct{ baseState }

func (processingState) Ship(o *Order, tracking string, now time.Time) (orderState, error) {
	if tracking == "" {
		return nil, ErrTrackingRequired
	}
	o.TrackingNumber = tracking
	at := now.UTC()
	o.ShippedAt = &at
	return shippedState{baseState{StatusShipped}}, nil
}

func (processingState) Refund(*Order) (orderState, error) {
	return refundedState{baseState{StatusRefunded}}, nil
}

type shippedState struct{ baseState }

func (shippedState) Deliver(o *Order, now time.Time) (orderState, error) {
	at := now.UTC()
	o.DeliveredAt = &at
	return deliveredState{baseState{StatusDelivered}}, nil
}

func (shippedState) Refund(*Order) (orderState, error) {
	return refundedState{baseState{StatusRefunded}}, nil
}

type deliveredState struct{ baseState }

type cancelledState struct{ baseState }

type refundedState struct{ baseState }

// successors mirrors the state pattern above: the statuses each status may
// move to in a single transition. Terminal states have no entry.
var successors = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
}

// CanProgress reports whether an order loaded at status from may legally be
// persisted at status to: unchanged, or further along the lifecycle. Terminal
// states progress nowhere, so a writer holding a stale aggregate can never
// regress one.
func CanProgress(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range successors[from] {
		if CanProgress(next, to) {
			return true
		}
	}
	return false
}

// ProgressSources lists every status from which to is a legal progression,
// including to itself. Repositories use it as the write predicate.
func ProgressSources(to Status) []Status {
	all := []Status{
		StatusPending, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded,
	}
	out := make([]Status, 0, len(all))
	for _, s := range all {
		if CanProgress(s, to) {
			out = append(out, s)
		}
	}
	return out
}
