package fulfillment

import (
	"context"
	"time"

	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/observability"
)

// SweepWorker periodically cancels unpaid orders past their payment window and
// confirms delivery for shipments past the auto-confirm window. Both paths go
// through the regular use case, so legality stays with the state machine and
// the usual events fire.
type SweepWorker struct {
	orders           order.Repository
	uc               *UseCase
	unpaidTTL        time.Duration
	autoDeliverAfter time.Duration
	interval         time.Duration

	log observability.Logger
}

func NewSweepWorker(
	orders order.Repository,
	uc *UseCase,
	unpaidTTL, autoDeliverAfter, interval time.Duration,
	tel observability.Telemetry,
) *SweepWorker {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &SweepWorker{
		orders:           orders,
		uc:               uc,
		unpaidTTL:        unpaidTTL,
		autoDeliverAfter: autoDeliverAfter,
		interval:         interval,
		log:              tel.Logger().With(observability.F("component", "order_sweep_worker")),
	}
}

// Run blocks until ctx is done.
func (w *SweepWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	now := time.Now().UTC()
	system := access.Actor{ID: "system", Role: access.RoleSystem}

	if w.unpaidTTL > 0 {
		stale, err := w.orders.ListPendingBefore(ctx, now.Add(-w.unpaidTTL))
		if err != nil {
			w.log.Warn("sweep_list_pending_failed", observability.F("error", err.Error()))
		} else {
			for _, ord := range stale {
				if _, err := w.uc.Cancel(ctx, CancelInput{
					Actor:   system,
					OrderID: ord.ID,
					Reason:  "payment window expired",
				}); err != nil {
					w.log.Warn("auto_cancel_failed",
						observability.F("order_id", ord.ID),
						observability.F("error", err.Error()),
					)
				}
			}
		}
	}

	if w.autoDeliverAfter > 0 {
		shipped, err := w.orders.ListShippedBefore(ctx, now.Add(-w.autoDeliverAfter))
		if err != nil {
			w.log.Warn("sweep_list_shipped_failed", observability.F("error", err.Error()))
			return
		}
		for _, ord := range shipped {
			if _, err := w.uc.Deliver(ctx, DeliverInput{Actor: system, OrderID: ord.ID}); err != nil {
				w.log.Warn("auto_deliver_failed",
					observability.F("order_id", ord.ID),
					observability.F("error", err.Error()),
				)
			}
		}
	}
}
