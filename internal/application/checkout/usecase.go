package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/cart"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/coupon"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/outbox"
	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

const (
	serviceName     = "checkout-service"
	useCaseCheckout = "checkout.place_order"
	spanPrefix      = "UC."
	publishPeer     = "outbox"
	publishTimeout  = 300 * time.Millisecond
)

var (
	ErrForbidden  = access.ErrForbidden
	ErrRepository = errors.New("checkout: repository failure")
)

// LineInput names a product by id; seller, title, sku and price are resolved
// from the catalog so clients can never dictate prices.
type LineInput struct {
	ProductID   string
	VariationID string
	Quantity    int
}

type Input struct {
	Actor      access.Actor
	Lines      []LineInput
	CouponCode string
	Billing    order.Address
	Shipping   order.Address
	Notes      string
}

type Result struct {
	Order *order.Order
}

// UseCase places an order: price the cart, apply the coupon, reserve stock and
// insert the order atomically, then announce it.
type UseCase struct {
	store     Store
	products  catalog.Repository
	coupons   coupon.Repository
	idGen     IDGenerator
	numGen    NumberGenerator
	publisher outbox.Publisher
	pricing   Pricing
	tel       observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewUseCase(
	store Store,
	products catalog.Repository,
	coupons coupon.Repository,
	idGen IDGenerator,
	numGen NumberGenerator,
	publisher outbox.Publisher,
	pricing Pricing,
	tel observability.Telemetry,
) *UseCase {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &UseCase{
		store:        store,
		products:     products,
		coupons:      coupons,
		idGen:        idGen,
		numGen:       numGen,
		publisher:    publisher,
		pricing:      pricing,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", serviceName)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
		extCounter:   tel.Counter(observability.MExternalRequests),
		extHistogram: tel.Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *UseCase) Execute(ctx context.Context, in Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseCheckout))

	var publishErr error

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"Checkout",
		attribute.String("use_case", useCaseCheckout),
		attribute.String("buyer.id", in.Actor.ID),
		attribute.Int("cart.lines", len(in.Lines)),
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
			observability.L("use_case", useCaseCheckout),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseCheckout))

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
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if !in.Actor.CanCheckout() {
		outcome, statusText = "error", "FORBIDDEN"
		return nil, ErrForbidden
	}
	if len(in.Lines) == 0 {
		outcome, statusText = "error", "CART_EMPTY"
		return nil, cart.ErrEmpty
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	now := time.Now().UTC()

	lines, err := uc.resolveLines(ctx, in.Lines)
	if err != nil {
		outcome, statusText = "error", "CATALOG_LOOKUP_FAILED"
		return nil, err
	}
	snapshot, err := cart.NewSnapshot(in.Actor.ID, lines, now)
	if err != nil {
		outcome, statusText = "error", "CART_INVALID"
		return nil, err
	}

	subtotal := snapshot.Subtotal()
	shipping := uc.pricing.Shipping(subtotal)
	tax := uc.pricing.Tax(subtotal)

	var discount coupon.Discount
	redeemed := false
	if in.CouponCode != "" {
		discount, err = uc.redeemCoupon(ctx, in.CouponCode, in.Actor.ID, subtotal, shipping, now)
		if err != nil {
			outcome, statusText = "error", "COUPON_REJECTED"
			return nil, err
		}
		redeemed = true
	}

	entity, err := order.Build(order.BuildInput{
		ID:         uc.idGen.NewID(),
		Number:     uc.numGen.NewNumber(now),
		Currency:   uc.pricing.Currency,
		Cart:       snapshot,
		Tax:        tax,
		Shipping:   shipping,
		Discount:   discount,
		CouponCode: in.CouponCode,
		Billing:    in.Billing,
		Delivery:   in.Shipping,
		Notes:      in.Notes,
		NewItemID:  uc.idGen.NewID,
		Now:        now,
	})
	if err != nil {
		uc.releaseIfRedeemed(ctx, logger, redeemed, in.CouponCode, in.Actor.ID)
		outcome, statusText = "error", "ORDER_BUILD_FAILED"
		return nil, err
	}

	if err := uc.store.CreateOrder(ctx, entity, snapshot.StockLines()); err != nil {
		uc.releaseIfRedeemed(ctx, logger, redeemed, in.CouponCode, in.Actor.ID)
		if errors.Is(err, catalog.ErrOutOfStock) {
			outcome, statusText = "error", "OUT_OF_STOCK"
			return nil, err
		}
		outcome, statusText = "error", "STORE_CREATE_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	publishErr = uc.publish(ctx, order.NewOrderCreatedEvent(entity))
	if publishErr != nil {
		statusText = "EVENT_PUBLISH_FAILED"
	}

	span.SetAttributes(
		attribute.String("order.id", entity.ID),
		attribute.String("order.number", entity.Number),
		attribute.String("order.total", entity.Total.String()),
	)
	span.AddEvent("order.created",
		trace.WithAttributes(attribute.String("order.id", entity.ID)),
	)

	return &Result{Order: entity}, nil
}

func (uc *UseCase) resolveLines(ctx context.Context, in []LineInput) ([]cart.Line, error) {
	lines := make([]cart.Line, 0, len(in))
	for _, li := range in {
		p, err := uc.products.GetProduct(ctx, li.ProductID)
		if err != nil {
			return nil, fmt.Errorf("checkout: product %s: %w", li.ProductID, err)
		}
		if !p.Active {
			return nil, fmt.Errorf("checkout: product %s: %w", li.ProductID, catalog.ErrNotFound)
		}
		line := cart.Line{
			ProductID: p.ID,
			SellerID:  p.SellerID,
			Title:     p.Title,
			SKU:       p.SKU,
			Quantity:  li.Quantity,
			UnitPrice: p.Price,
		}
		if li.VariationID != "" {
			v, ok := p.FindVariation(li.VariationID)
			if !ok {
				return nil, fmt.Errorf("checkout: variation %s: %w", li.VariationID, catalog.ErrNotFound)
			}
			line.VariationID = v.ID
			line.SKU = v.SKU
			line.UnitPrice = v.Price
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// redeemCoupon evaluates the rules and then claims one redemption atomically.
// The repository increment is the race arbiter; Evaluate alone is advisory.
func (uc *UseCase) redeemCoupon(ctx context.Context, code, buyerID string, subtotal, shipping decimal.Decimal, now time.Time) (coupon.Discount, error) {
	c, err := uc.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return coupon.Discount{}, fmt.Errorf("%w: %s", coupon.ErrInvalid, code)
		}
		return coupon.Discount{}, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	used, err := uc.coupons.CountRedemptions(ctx, code, buyerID)
	if err != nil {
		return coupon.Discount{}, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	discount, err := c.Evaluate(subtotal, shipping, used, now)
	if err != nil {
		return coupon.Discount{}, err
	}
	if err := uc.coupons.Redeem(ctx, code, buyerID); err != nil {
		return coupon.Discount{}, err
	}
	return discount, nil
}

func (uc *UseCase) releaseIfRedeemed(ctx context.Context, logger observability.Logger, redeemed bool, code, buyerID string) {
	if !redeemed {
		return
	}
	if err := uc.coupons.Release(ctx, code, buyerID); err != nil {
		logger.Warn("coupon_release_failed",
			observability.F("coupon_code", code),
			observability.F("error", err.Error()),
		)
	}
}

func (uc *UseCase) publish(ctx context.Context, e outbox.Event) error {
	if uc.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	pubStart := time.Now()
	pubOutcome := "success"

	err := uc.publisher.Publish(pubCtx, e)
	if err != nil {
		pubOutcome = "error"
	} else if pubCtx.Err() != nil {
		pubOutcome = "canceled"
		err = pubCtx.Err()
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
	return err
}
