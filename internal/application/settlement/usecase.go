package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/outbox"
	"github.com/zestmarket/marketplace/internal/domain/payout"
	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

const (
	serviceName    = "settlement-service"
	useCaseSettle  = "settlement.settle_order"
	spanPrefix     = "UC."
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond
)

var (
	ErrRepository    = errors.New("settlement: repository failure")
	ErrNotSettleable = errors.New("settlement: order is not in a settleable state")
)

// IDGenerator produces entity identifiers.
type IDGenerator interface {
	NewID() string
}

type SettleInput struct {
	OrderID string
}

type SettleResult struct {
	Payouts []*payout.Payout
	// Replayed is true when the order had already been settled and the
	// existing batch was returned untouched.
	Replayed bool
}

// SettleUseCase writes the commission ledger for a paid order: one payout per
// order item, net of the seller's commission rate, exactly once per order.
type SettleUseCase struct {
	orders      order.Repository
	sellers     catalog.Repository
	payouts     payout.Repository
	idGen       IDGenerator
	publisher   outbox.Publisher
	defaultRate decimal.Decimal
	tel         observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewSettleUseCase(
	orders order.Repository,
	sellers catalog.Repository,
	payouts payout.Repository,
	idGen IDGenerator,
	publisher outbox.Publisher,
	defaultRate decimal.Decimal,
	tel observability.Telemetry,
) *SettleUseCase {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &SettleUseCase{
		orders:       orders,
		sellers:      sellers,
		payouts:      payouts,
		idGen:        idGen,
		publisher:    publisher,
		defaultRate:  defaultRate,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", serviceName)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
		extCounter:   tel.Counter(observability.MExternalRequests),
		extHistogram: tel.Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *SettleUseCase) Execute(ctx context.Context, in SettleInput) (_ *SettleResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseSettle))

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"SettleOrder",
		attribute.String("use_case", useCaseSettle),
		attribute.String("order.id", in.OrderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseSettle),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseSettle))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
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
		logger.Info("use_case_done", fields...)
	}()

	ord, err := uc.orders.Get(ctx, in.OrderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		if errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	// Refunded orders are rejected too: a redelivered payment event after a
	// refund must not mint fresh payouts the refund's voiding already missed.
	switch ord.Status {
	case order.StatusPending, order.StatusCancelled, order.StatusRefunded:
		outcome, statusText = "error", "ORDER_NOT_SETTLEABLE"
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSettleable, ord.ID, ord.Status)
	}

	rates := make(map[string]decimal.Decimal, len(ord.Groups))
	for _, sellerID := range ord.SellerIDs() {
		rate, rerr := uc.commissionRate(ctx, sellerID)
		if rerr != nil {
			outcome, statusText = "error", "SELLER_LOOKUP_FAILED"
			return nil, rerr
		}
		rates[sellerID] = rate
	}

	batch := make([]*payout.Payout, 0, len(ord.Items))
	for _, item := range ord.Items {
		p, perr := payout.New(uc.idGen.NewID(), item.SellerID, ord.ID, item.ID, item.TotalPrice, rates[item.SellerID])
		if perr != nil {
			outcome, statusText = "error", "PAYOUT_CONSTRUCTION_FAILED"
			return nil, perr
		}
		batch = append(batch, p)
	}

	if err := uc.payouts.CreateBatch(ctx, ord.ID, batch); err != nil {
		if errors.Is(err, payout.ErrAlreadySettled) {
			existing, lerr := uc.payouts.ListByOrder(ctx, ord.ID)
			if lerr != nil {
				outcome, statusText = "error", "PAYOUT_LOOKUP_FAILED"
				return nil, fmt.Errorf("%w: %w", ErrRepository, lerr)
			}
			statusText = "IDEMPOTENT_REPLAY"
			span.AddEvent("settlement.replayed",
				trace.WithAttributes(attribute.String("order.id", ord.ID)),
			)
			return &SettleResult{Payouts: existing, Replayed: true}, nil
		}
		outcome, statusText = "error", "PAYOUT_INSERT_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	for _, p := range batch {
		uc.publishEvent(ctx, logger, payout.NewPayoutCreatedEvent(p))
	}

	span.SetAttributes(attribute.Int("settlement.payouts", len(batch)))
	return &SettleResult{Payouts: batch}, nil
}

// commissionRate prefers the seller's negotiated rate and falls back to the
// platform default.
func (uc *SettleUseCase) commissionRate(ctx context.Context, sellerID string) (decimal.Decimal, error) {
	s, err := uc.sellers.GetSeller(ctx, sellerID)
	if err != nil {
		if errors.Is(err, catalog.ErrSellerNotFound) {
			return uc.defaultRate, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	if s.CommissionRate != nil {
		return *s.CommissionRate, nil
	}
	return uc.defaultRate, nil
}

func (uc *SettleUseCase) publishEvent(ctx context.Context, logger observability.Logger, e outbox.Event) {
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
