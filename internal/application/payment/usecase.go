package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/outbox"
	domain "github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

const (
	serviceName       = "payment-service"
	useCaseIntent     = "payment.create_intent"
	spanPrefix        = "UC."
	publishPeer       = "outbox"
	publishTimeout    = 300 * time.Millisecond
	gatewayPeer       = "gateway"
	gatewayEndpoint   = "create_intent"
	backoffInitial    = 200 * time.Millisecond
	backoffMaxElapsed = 0 // retry count bounds the loop, not wall time
)

var (
	ErrForbidden   = access.ErrForbidden
	ErrNotPayable  = errors.New("payment: order is not payable")
	ErrRepository  = errors.New("payment: repository failure")
	ErrOrderClosed = errors.New("payment: order already paid")
)

// IDGenerator produces entity identifiers.
type IDGenerator interface {
	NewID() string
}

type CreateIntentInput struct {
	Actor   access.Actor
	OrderID string
}

type CreateIntentResult struct {
	Payment      *domain.Payment
	ClientSecret string
	RedirectURL  string
}

// CreateIntentUseCase opens a charge attempt against a pending order. The
// idempotency key is derived from (order, attempt); while an attempt is in
// flight a repeated call re-presents the same intent instead of opening a
// second charge.
type CreateIntentUseCase struct {
	orders     order.Repository
	payments   domain.Repository
	gateway    domain.Gateway
	idGen      IDGenerator
	publisher  outbox.Publisher
	timeout    time.Duration
	maxRetries int
	tel        observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewCreateIntentUseCase(
	orders order.Repository,
	payments domain.Repository,
	gateway domain.Gateway,
	idGen IDGenerator,
	publisher outbox.Publisher,
	timeout time.Duration,
	maxRetries int,
	tel observability.Telemetry,
) *CreateIntentUseCase {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &CreateIntentUseCase{
		orders:       orders,
		payments:     payments,
		gateway:      gateway,
		idGen:        idGen,
		publisher:    publisher,
		timeout:      timeout,
		maxRetries:   maxRetries,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", serviceName)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
		extCounter:   tel.Counter(observability.MExternalRequests),
		extHistogram: tel.Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *CreateIntentUseCase) Execute(ctx context.Context, in CreateIntentInput) (_ *CreateIntentResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseIntent))

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"CreatePaymentIntent",
		attribute.String("use_case", useCaseIntent),
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
			observability.L("use_case", useCaseIntent),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseIntent))

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
		return nil, wrapLookup(err)
	}
	if !in.Actor.CanPay(ord.BuyerID) {
		outcome, statusText = "error", "FORBIDDEN"
		return nil, ErrForbidden
	}
	if ord.Status != order.StatusPending {
		if ord.Status == order.StatusPaid {
			outcome, statusText = "error", "ORDER_ALREADY_PAID"
			return nil, fmt.Errorf("%w: %s", ErrOrderClosed, ord.ID)
		}
		outcome, statusText = "error", "ORDER_NOT_PAYABLE"
		return nil, fmt.Errorf("%w: status %s", ErrNotPayable, ord.Status)
	}

	attempt := 1
	var inFlight *domain.Payment
	latest, err := uc.payments.LatestByOrder(ctx, in.OrderID)
	switch {
	case err == nil:
		if latest.Status == domain.StatusCompleted {
			outcome, statusText = "error", "DUPLICATE_CHARGE"
			return nil, fmt.Errorf("%w: order %s", domain.ErrDuplicate, ord.ID)
		}
		if latest.Status == domain.StatusPending {
			// Re-present the in-flight attempt. The gateway call below reuses
			// its idempotency key, so the provider returns the same intent.
			inFlight = latest
			attempt = latest.Attempt
		} else {
			attempt = latest.Attempt + 1
		}
	case errors.Is(err, domain.ErrNotFound):
		// first attempt
	default:
		outcome, statusText = "error", "PAYMENT_LOOKUP_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	key := domain.IdempotencyKey(ord.ID, attempt)
	intent, gwErr := uc.createIntent(ctx, domain.IntentRequest{
		OrderID:        ord.ID,
		Amount:         ord.Total,
		Currency:       ord.Currency,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"order_number": ord.Number,
			"buyer_id":     ord.BuyerID,
		},
	})
	if gwErr != nil {
		// The order stays pending; the buyer may retry, opening a new attempt.
		uc.recordGatewayFailure(ctx, logger, ord, attempt, inFlight, gwErr)
		outcome, statusText = "error", classifyStatus(gwErr)
		return nil, gwErr
	}

	if inFlight != nil {
		span.AddEvent("payment.intent_replayed",
			trace.WithAttributes(attribute.String("payment.id", inFlight.ID)),
		)
		return &CreateIntentResult{
			Payment:      inFlight,
			ClientSecret: intent.ClientSecret,
			RedirectURL:  intent.RedirectURL,
		}, nil
	}

	p, err := domain.New(uc.idGen.NewID(), ord.ID, uc.gateway.Name(), ord.Total, ord.Currency, attempt, intent.TransactionID, intent.Raw)
	if err != nil {
		outcome, statusText = "error", "PAYMENT_CONSTRUCTION_FAILED"
		return nil, err
	}
	if err := uc.payments.Insert(ctx, p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race to a concurrent request for the same attempt.
			if existing, lookupErr := uc.payments.FindByIdempotencyKey(ctx, key); lookupErr == nil {
				statusText = "IDEMPOTENT_REPLAY"
				return &CreateIntentResult{
					Payment:      existing,
					ClientSecret: intent.ClientSecret,
					RedirectURL:  intent.RedirectURL,
				}, nil
			}
		}
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	span.SetAttributes(
		attribute.String("payment.id", p.ID),
		attribute.Int("payment.attempt", attempt),
	)
	return &CreateIntentResult{
		Payment:      p,
		ClientSecret: intent.ClientSecret,
		RedirectURL:  intent.RedirectURL,
	}, nil
}

// createIntent runs the gateway round trip, the pipeline's only suspension
// point, bounded by the per-call timeout and retried with exponential backoff
// on transient failures only.
func (uc *CreateIntentUseCase) createIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	var intent *domain.Intent

	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
		defer cancel()

		callStart := time.Now()
		res, err := uc.gateway.CreateIntent(callCtx, req)
		callOutcome := "success"
		if err != nil {
			callOutcome = "error"
		}
		uc.extCounter.Add(1,
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
			observability.L("outcome", callOutcome),
		)
		uc.extHistogram.Observe(time.Since(callStart).Seconds(),
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
		)

		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		intent = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInitial
	bo.MaxElapsedTime = backoffMaxElapsed

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(uc.maxRetries)), ctx))
	if err != nil {
		if retryable(err) {
			return nil, fmt.Errorf("%w: retries exhausted: %w", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}
	return intent, nil
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrNetwork) || errors.Is(err, domain.ErrGatewayUnavailable)
}

// recordGatewayFailure keeps an audit row for a rejected attempt. Transient
// exhaustion on a brand-new attempt leaves no row; there is nothing to settle
// and the next call simply retries.
func (uc *CreateIntentUseCase) recordGatewayFailure(ctx context.Context, logger observability.Logger, ord *order.Order, attempt int, inFlight *domain.Payment, gwErr error) {
	reason := classifyStatus(gwErr)

	if inFlight != nil {
		if err := inFlight.MarkFailed(reason, nil, time.Now()); err != nil {
			return
		}
		if err := uc.payments.Update(ctx, inFlight); err != nil {
			logger.Warn("payment_failure_record_failed", observability.F("error", err.Error()))
			return
		}
		uc.publishFailed(ctx, logger, inFlight)
		return
	}
	if retryable(gwErr) {
		return
	}

	p, err := domain.New(uc.idGen.NewID(), ord.ID, uc.gateway.Name(), ord.Total, ord.Currency, attempt, "", nil)
	if err != nil {
		return
	}
	if err := p.MarkFailed(reason, nil, time.Now()); err != nil {
		return
	}
	if err := uc.payments.Insert(ctx, p); err != nil {
		logger.Warn("payment_failure_record_failed", observability.F("error", err.Error()))
		return
	}
	uc.publishFailed(ctx, logger, p)
}

func (uc *CreateIntentUseCase) publishFailed(ctx context.Context, logger observability.Logger, p *domain.Payment) {
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, domain.NewPaymentFailedEvent(p)); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", "payment.failed"),
			observability.F("error", err.Error()),
		)
	}
}

func classifyStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrDeclined):
		return "DECLINED"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, domain.ErrNetwork):
		return "NETWORK_ERROR"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	default:
		return "GATEWAY_ERROR"
	}
}

func wrapLookup(err error) error {
	if errors.Is(err, order.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}
