package settlement

import (
	"context"

	"github.com/zestmarket/marketplace/internal/domain/outbox"
	domain "github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

// Worker settles orders as payment completions arrive on the bus. Settlement
// is idempotent, so redelivered events are harmless.
type Worker struct {
	subscriber outbox.Subscriber
	settle     *SettleUseCase

	log observability.Logger
}

func NewWorker(subscriber outbox.Subscriber, settle *SettleUseCase, tel observability.Telemetry) *Worker {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Worker{
		subscriber: subscriber,
		settle:     settle,
		log:        tel.Logger().With(observability.F("component", "settlement_worker")),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.settle == nil {
		return
	}
	w.subscriber.Subscribe(domain.PaymentCompletedEvent{}.EventName(), w.handlePaymentCompleted)
}

func (w *Worker) handlePaymentCompleted(ctx context.Context, e outbox.Event) error {
	logger := logctx.FromOr(ctx, w.log).With(observability.F("event", e.EventName()))

	evt, ok := e.(domain.PaymentCompletedEvent)
	if !ok {
		return nil
	}

	res, err := w.settle.Execute(ctx, SettleInput{OrderID: evt.OrderID})
	if err != nil {
		logger.Warn("settlement_failed",
			observability.F("order_id", evt.OrderID),
			observability.F("error", err.Error()),
		)
		return err
	}

	logger.Info("order_settled",
		observability.F("order_id", evt.OrderID),
		observability.F("payouts", len(res.Payouts)),
		observability.F("replayed", res.Replayed),
	)
	return nil
}
