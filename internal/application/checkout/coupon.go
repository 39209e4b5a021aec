package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zestmarket/marketplace/internal/domain/coupon"
	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

const useCaseCouponValidate = "checkout.validate_coupon"

// ValidateCouponInput previews a coupon against a hypothetical subtotal. No
// redemption is claimed; checkout redeems for real.
type ValidateCouponInput struct {
	Code     string
	BuyerID  string
	Subtotal decimal.Decimal
}

type ValidateCouponResult struct {
	Code           string
	Type           coupon.Type
	Discount       coupon.Discount
	DiscountAmount decimal.Decimal
}

type ValidateCouponUseCase struct {
	coupons coupon.Repository
	pricing Pricing
	tel     observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewValidateCouponUseCase(coupons coupon.Repository, pricing Pricing, tel observability.Telemetry) *ValidateCouponUseCase {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &ValidateCouponUseCase{
		coupons:      coupons,
		pricing:      pricing,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", serviceName)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
	}
}

func (uc *ValidateCouponUseCase) Execute(ctx context.Context, in ValidateCouponInput) (_ *ValidateCouponResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseCouponValidate))

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"ValidateCoupon",
		attribute.String("use_case", useCaseCouponValidate),
		attribute.String("coupon.code", in.Code),
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
			observability.L("use_case", useCaseCouponValidate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseCouponValidate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if in.Code == "" {
		outcome, statusText = "error", "CODE_REQUIRED"
		return nil, fmt.Errorf("%w: code is required", coupon.ErrInvalid)
	}

	c, err := uc.coupons.FindByCode(ctx, in.Code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			outcome, statusText = "error", "COUPON_UNKNOWN"
			return nil, fmt.Errorf("%w: %s", coupon.ErrInvalid, in.Code)
		}
		outcome, statusText = "error", "REPO_LOOKUP_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	used, err := uc.coupons.CountRedemptions(ctx, in.Code, in.BuyerID)
	if err != nil {
		outcome, statusText = "error", "REPO_LOOKUP_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	shipping := uc.pricing.Shipping(in.Subtotal)
	discount, err := c.Evaluate(in.Subtotal, shipping, used, time.Now().UTC())
	if err != nil {
		outcome, statusText = "error", "COUPON_REJECTED"
		return nil, err
	}

	return &ValidateCouponResult{
		Code:           c.Code,
		Type:           c.Type,
		Discount:       discount,
		DiscountAmount: discount.Total(),
	}, nil
}
