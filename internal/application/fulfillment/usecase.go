package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zestmarket/marketplace/internal/application/settlement"
	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/outbox"
	"github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/domain/payout"
	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

const (
	serviceName    = "fulfillment-service"
	spanPrefix     = "UC."
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond

	useCaseFulfill = "fulfillment.fulfill"
	useCaseDeliver = "fulfillment.deliver"
	useCaseCancel  = "fulfillment.cancel"
	useCaseRefund  = "fulfillment.refund"
)

var (
	ErrForbidden  = access.ErrForbidden
	ErrRepository = errors.New("fulfillment: repository failure")
)

// UseCase drives the post-payment order lifecycle: fulfillment progress,
// delivery, pending-order cancellation with restock, and refunds with payout
// voiding. Transition legality lives in the order state machine; this layer
// adds authorization, persistence and event fanout.
type UseCase struct {
	orders    order.Repository
	store     Store
	payments  payment.Repository
	payouts   payout.Repository
	idGen     IDGenerator
	publisher outbox.Publisher
	tel       observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewUseCase(
	orders order.Repository,
	store Store,
	payments payment.Repository,
	payouts payout.Repository,
	idGen IDGenerator,
	publisher outbox.Publisher,
	tel observability.Telemetry,
) *UseCase {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &UseCase{
		orders:       orders,
		store:        store,
		payments:     payments,
		payouts:      payouts,
		idGen:        idGen,
		publisher:    publisher,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", serviceName)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
		extCounter:   tel.Counter(observability.MExternalRequests),
		extHistogram: tel.Histogram(observability.MExternalRequestDuration),
	}
}

type FulfillInput struct {
	Actor          access.Actor
	OrderID        string
	TrackingNumber string
}

// Fulfill advances a paid order: without a tracking number it moves
// paid -> processing; with one it moves (paid ->) processing -> shipped.
func (uc *UseCase) Fulfill(ctx context.Context, in FulfillInput) (_ *order.Order, err error) {
	ctx, op := uc.begin(ctx, useCaseFulfill, "Fulfill",
		attribute.String("order.id", in.OrderID),
	)
	defer func() { op.end(ctx, err) }()

	ord, err := uc.orders.Get(ctx, in.OrderID)
	if err != nil {
		op.fail("ORDER_LOOKUP_FAILED")
		return nil, wrapLookup(err)
	}
	if !in.Actor.CanFulfill(ord.SellerIDs()) {
		op.fail("FORBIDDEN")
		return nil, ErrForbidden
	}

	started := false
	if ord.Status == order.StatusPaid {
		if err = ord.StartProcessing(); err != nil {
			op.fail("TRANSITION_REJECTED")
			return nil, err
		}
		started = true
	}
	shipped := false
	if in.TrackingNumber != "" {
		if err = ord.Ship(in.TrackingNumber, time.Now()); err != nil {
			op.fail("TRANSITION_REJECTED")
			return nil, err
		}
		shipped = true
	} else if !started {
		op.fail("TRACKING_REQUIRED")
		return nil, order.ErrTrackingRequired
	}

	if err = uc.orders.Update(ctx, ord); err != nil {
		op.fail("REPO_UPDATE_FAILED")
		return nil, wrapWrite(err)
	}
	if shipped {
		uc.publishEvent(ctx, op.logger, order.NewOrderShippedEvent(ord))
	}

	op.span.SetAttributes(attribute.String("order.status", string(ord.Status)))
	return ord, nil
}

type DeliverInput struct {
	Actor   access.Actor
	OrderID string
}

func (uc *UseCase) Deliver(ctx context.Context, in DeliverInput) (_ *order.Order, err error) {
	ctx, op := uc.begin(ctx, useCaseDeliver, "Deliver",
		attribute.String("order.id", in.OrderID),
	)
	defer func() { op.end(ctx, err) }()

	ord, err := uc.orders.Get(ctx, in.OrderID)
	if err != nil {
		op.fail("ORDER_LOOKUP_FAILED")
		return nil, wrapLookup(err)
	}
	if !in.Actor.CanConfirmDelivery(ord.BuyerID) {
		op.fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	if err = ord.Deliver(time.Now()); err != nil {
		op.fail("TRANSITION_REJECTED")
		return nil, err
	}
	if err = uc.orders.Update(ctx, ord); err != nil {
		op.fail("REPO_UPDATE_FAILED")
		return nil, wrapWrite(err)
	}
	uc.publishEvent(ctx, op.logger, order.NewOrderDeliveredEvent(ord))

	op.span.SetAttributes(attribute.String("order.status", string(ord.Status)))
	return ord, nil
}

type CancelInput struct {
	Actor   access.Actor
	OrderID string
	Reason  string
}

// Cancel releases a pending order and restores the exact reserved quantities.
// Cancellation after payment is a refund, not a cancel.
func (uc *UseCase) Cancel(ctx context.Context, in CancelInput) (_ *order.Order, err error) {
	ctx, op := uc.begin(ctx, useCaseCancel, "Cancel",
		attribute.String("order.id", in.OrderID),
	)
	defer func() { op.end(ctx, err) }()

	ord, err := uc.orders.Get(ctx, in.OrderID)
	if err != nil {
		op.fail("ORDER_LOOKUP_FAILED")
		return nil, wrapLookup(err)
	}
	if !in.Actor.CanCancel(ord.BuyerID) {
		op.fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	if err = ord.Cancel(); err != nil {
		op.fail("TRANSITION_REJECTED")
		return nil, err
	}
	if err = uc.store.CancelOrder(ctx, ord, restockLines(ord)); err != nil {
		op.fail("STORE_CANCEL_FAILED")
		return nil, wrapWrite(err)
	}
	uc.publishEvent(ctx, op.logger, order.NewOrderCancelledEvent(ord, in.Reason))

	op.span.SetAttributes(attribute.String("order.status", string(ord.Status)))
	return ord, nil
}

type RefundInput struct {
	Actor   access.Actor
	OrderID string
	Reason  string
}

// Refund moves a paid, processing or shipped order into its terminal refunded
// state, voids the still-pending payouts and writes the compensating payment
// record. Stock is not restored; returns handling is a separate workflow.
func (uc *UseCase) Refund(ctx context.Context, in RefundInput) (_ *order.Order, err error) {
	ctx, op := uc.begin(ctx, useCaseRefund, "Refund",
		attribute.String("order.id", in.OrderID),
	)
	defer func() { op.end(ctx, err) }()

	if !in.Actor.CanRefund() {
		op.fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	ord, err := uc.orders.Get(ctx, in.OrderID)
	if err != nil {
		op.fail("ORDER_LOOKUP_FAILED")
		return nil, wrapLookup(err)
	}
	if err = ord.Refund(); err != nil {
		op.fail("TRANSITION_REJECTED")
		return nil, err
	}
	if err = uc.orders.Update(ctx, ord); err != nil {
		op.fail("REPO_UPDATE_FAILED")
		return nil, wrapWrite(err)
	}

	voided, verr := settlement.VoidPending(ctx, uc.payouts, ord.ID)
	if verr != nil {
		op.logger.Warn("payout_void_failed",
			observability.F("order_id", ord.ID),
			observability.F("error", verr.Error()),
		)
	}
	op.span.SetAttributes(attribute.Int("refund.payouts_voided", voided))

	if rerr := uc.recordRefundPayment(ctx, ord, in.Reason); rerr != nil {
		op.logger.Warn("refund_payment_record_failed",
			observability.F("order_id", ord.ID),
			observability.F("error", rerr.Error()),
		)
	}

	uc.publishEvent(ctx, op.logger, order.NewOrderRefundedEvent(ord))

	op.span.SetAttributes(attribute.String("order.status", string(ord.Status)))
	return ord, nil
}

// recordRefundPayment writes the compensating ledger entry mirroring the
// completed charge.
func (uc *UseCase) recordRefundPayment(ctx context.Context, ord *order.Order, reason string) error {
	completed, err := uc.completedPayment(ctx, ord.ID)
	if err != nil {
		return err
	}
	attempt, err := uc.payments.CountByOrder(ctx, ord.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
	refund, err := payment.NewRefund(
		uc.idGen.NewID(),
		ord.ID,
		completed.Gateway,
		completed.Amount,
		completed.Currency,
		attempt+1,
		fmt.Sprintf("refund-%s", completed.TransactionID),
		time.Now(),
	)
	if err != nil {
		return err
	}
	refund.FailureReason = reason
	if err := uc.payments.Insert(ctx, refund); err != nil {
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
	return nil
}

func (uc *UseCase) completedPayment(ctx context.Context, orderID string) (*payment.Payment, error) {
	list, err := uc.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	for _, p := range list {
		if p.Status == payment.StatusCompleted {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no completed payment for order %s", payment.ErrNotFound, orderID)
}

func restockLines(ord *order.Order) []catalog.StockLine {
	lines := make([]catalog.StockLine, 0, len(ord.Items))
	for _, it := range ord.Items {
		lines = append(lines, catalog.StockLine{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
		})
	}
	return lines
}

func wrapLookup(err error) error {
	if errors.Is(err, order.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}

// wrapWrite keeps a lost status race visible to the caller as a conflict
// rather than a generic repository failure.
func wrapWrite(err error) error {
	if errors.Is(err, order.ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}

// op carries the per-call observability state shared by every operation in
// this package.
type op struct {
	uc      *UseCase
	name    string
	span    trace.Span
	logger  observability.Logger
	start   time.Time
	outcome string
	status  string
}

func (uc *UseCase) begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *op) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCase))
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+spanName, attrs...)
	return ctx, &op{
		uc:      uc,
		name:    useCase,
		span:    span,
		logger:  logger,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

func (o *op) fail(status string) {
	o.outcome, o.status = "error", status
}

func (o *op) end(ctx context.Context, err error) {
	lat := time.Since(o.start).Seconds()

	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, o.status)
	} else {
		o.span.SetStatus(codes.Ok, o.status)
	}
	o.span.End()

	o.uc.reqCounter.Add(1,
		observability.L("use_case", o.name),
		observability.L("outcome", o.outcome),
	)
	o.uc.durHistogram.Observe(lat, observability.L("use_case", o.name))

	fields := []observability.Field{
		observability.F("outcome", o.outcome),
		observability.F("status", o.status),
		observability.F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	o.logger.Info("use_case_done", fields...)
}

func (uc *UseCase) publishEvent(ctx context.Context, logger observability.Logger, e outbox.Event) {
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	pubStart := time.Now()
	pubOutcome := "success"

	err := uc.publisher.Publish(pubCtx, e)
	if err != nil {
		pubOutcome = "error"
		logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", e.EventName()),
		observability.L("outcome", pubOutcome),
	)
	uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", e.EventName()),
	)
}
