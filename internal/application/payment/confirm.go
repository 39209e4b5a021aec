package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/outbox"
	domain "github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

const useCaseConfirm = "payment.confirm"

type ConfirmInput struct {
	TransactionID string
	Succeeded     bool
	FailureReason string
	Payload       json.RawMessage
}

type ConfirmResult struct {
	Payment     *domain.Payment
	OrderStatus order.Status
}

// ConfirmUseCase applies a gateway callback. The transaction id is the source
// of truth; transitions are monotonic, so replayed or out-of-order callbacks
// converge on the first recorded outcome instead of flapping.
type ConfirmUseCase struct {
	orders    order.Repository
	payments  domain.Repository
	publisher outbox.Publisher
	tel       observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewConfirmUseCase(
	orders order.Repository,
	payments domain.Repository,
	publisher outbox.Publisher,
	tel observability.Telemetry,
) *ConfirmUseCase {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &ConfirmUseCase{
		orders:       orders,
		payments:     payments,
		publisher:    publisher,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", serviceName)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
		extCounter:   tel.Counter(observability.MExternalRequests),
		extHistogram: tel.Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *ConfirmUseCase) Execute(ctx context.Context, in ConfirmInput) (_ *ConfirmResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseConfirm))

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"ConfirmPayment",
		attribute.String("use_case", useCaseConfirm),
		attribute.String("payment.transaction_id", in.TransactionID),
		attribute.Bool("payment.succeeded", in.Succeeded),
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
			observability.L("use_case", useCaseConfirm),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseConfirm))

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

	if in.TransactionID == "" {
		outcome, statusText = "error", "TRANSACTION_ID_REQUIRED"
		return nil, fmt.Errorf("%w: transaction id is required", domain.ErrNotFound)
	}

	p, err := uc.payments.FindByTransactionID(ctx, in.TransactionID)
	if err != nil {
		outcome, statusText = "error", "PAYMENT_LOOKUP_FAILED"
		if errors.Is(err, domain.ErrNotFound) {
			statusText = "PAYMENT_UNKNOWN"
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	if p.Status != domain.StatusPending {
		// Already resolved; acknowledge without touching anything.
		statusText = "IDEMPOTENT_REPLAY"
		span.AddEvent("payment.confirm_replayed",
			trace.WithAttributes(attribute.String("payment.status", string(p.Status))),
		)
		ordStatus, lookupErr := uc.orderStatus(ctx, p.OrderID)
		if lookupErr != nil {
			outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
			return nil, lookupErr
		}
		return &ConfirmResult{Payment: p, OrderStatus: ordStatus}, nil
	}

	now := time.Now()
	if !in.Succeeded {
		reason := in.FailureReason
		if reason == "" {
			reason = "DECLINED"
		}
		if err := p.MarkFailed(reason, in.Payload, now); err != nil {
			outcome, statusText = "error", "TRANSITION_REJECTED"
			return nil, err
		}
		if err := uc.payments.Update(ctx, p); err != nil {
			outcome, statusText = "error", "REPO_UPDATE_FAILED"
			return nil, fmt.Errorf("%w: %w", ErrRepository, err)
		}
		uc.publishEvent(ctx, logger, domain.NewPaymentFailedEvent(p))

		ordStatus, lookupErr := uc.orderStatus(ctx, p.OrderID)
		if lookupErr != nil {
			outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
			return nil, lookupErr
		}
		statusText = "PAYMENT_FAILED"
		return &ConfirmResult{Payment: p, OrderStatus: ordStatus}, nil
	}

	ord, err := uc.orders.Get(ctx, p.OrderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		return nil, wrapLookup(err)
	}
	if err := ord.MarkPaid(); err != nil {
		// The order moved on (cancelled or paid by another attempt) while the
		// charge was in flight. The charge is not completed; operators resolve
		// the money side out of band.
		if markErr := p.MarkFailed("ORDER_NOT_PENDING", in.Payload, now); markErr == nil {
			if updErr := uc.payments.Update(ctx, p); updErr != nil {
				logger.Warn("payment_failure_record_failed", observability.F("error", updErr.Error()))
			}
		}
		outcome, statusText = "error", "ORDER_NOT_PENDING"
		return nil, err
	}
	// The order write is the race arbiter: it lands before the payment row
	// flips to completed, so a charge is never recorded as captured against an
	// order some other writer closed in the meantime.
	if err := uc.orders.Update(ctx, ord); err != nil {
		if errors.Is(err, order.ErrConflict) {
			if markErr := p.MarkFailed("ORDER_NOT_PENDING", in.Payload, now); markErr == nil {
				if updErr := uc.payments.Update(ctx, p); updErr != nil {
					logger.Warn("payment_failure_record_failed", observability.F("error", updErr.Error()))
				}
			}
			outcome, statusText = "error", "ORDER_NOT_PENDING"
			return nil, fmt.Errorf("%w: order %s moved while the charge was in flight", order.ErrInvalidStateTransition, ord.ID)
		}
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	if err := p.MarkCompleted(in.Payload, now); err != nil {
		outcome, statusText = "error", "TRANSITION_REJECTED"
		return nil, err
	}
	if err := uc.payments.Update(ctx, p); err != nil {
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	uc.publishEvent(ctx, logger, domain.NewPaymentCompletedEvent(p))

	span.SetAttributes(attribute.String("order.status", string(ord.Status)))
	span.AddEvent("payment.completed",
		trace.WithAttributes(attribute.String("payment.id", p.ID)),
	)
	return &ConfirmResult{Payment: p, OrderStatus: ord.Status}, nil
}

func (uc *ConfirmUseCase) orderStatus(ctx context.Context, orderID string) (order.Status, error) {
	ord, err := uc.orders.Get(ctx, orderID)
	if err != nil {
		return "", wrapLookup(err)
	}
	return ord.Status, nil
}

func (uc *ConfirmUseCase) publishEvent(ctx context.Context, logger observability.Logger, e outbox.Event) {
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
