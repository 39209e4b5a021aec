package httppresentation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appcheckout "github.com/zestmarket/marketplace/internal/application/checkout"
	appfulfillment "github.com/zestmarket/marketplace/internal/application/fulfillment"
	apppayment "github.com/zestmarket/marketplace/internal/application/payment"
	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/cart"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/coupon"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/domain/payout"
	"github.com/zestmarket/marketplace/internal/observability"
)

const componentHTTPHandler = "http_server"

type Handler struct {
	checkout       *appcheckout.UseCase
	validateCoupon *appcheckout.ValidateCouponUseCase
	getOrder       *appcheckout.GetOrderUseCase
	createIntent   *apppayment.CreateIntentUseCase
	confirmPayment *apppayment.ConfirmUseCase
	fulfillment    *appfulfillment.UseCase
	payouts        payout.Repository

	log           observability.Logger
	tel           observability.Telemetry
	validate      *validatorv10.Validate
	gatherer      prometheus.Gatherer
	webhookSecret string
}

func NewHandler(
	checkoutUC *appcheckout.UseCase,
	validateCoupon *appcheckout.ValidateCouponUseCase,
	getOrder *appcheckout.GetOrderUseCase,
	createIntent *apppayment.CreateIntentUseCase,
	confirmPayment *apppayment.ConfirmUseCase,
	fulfillment *appfulfillment.UseCase,
	payouts payout.Repository,
	logger observability.Logger,
	tel observability.Telemetry,
	gatherer prometheus.Gatherer,
	webhookSecret string,
) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		checkout:       checkoutUC,
		validateCoupon: validateCoupon,
		getOrder:       getOrder,
		createIntent:   createIntent,
		confirmPayment: confirmPayment,
		fulfillment:    fulfillment,
		payouts:        payouts,
		log:            logger.With(observability.F("component", componentHTTPHandler)),
		tel:            tel,
		validate:       newValidator(),
		gatherer:       gatherer,
		webhookSecret:  webhookSecret,
	}
}

func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(observabilityMiddleware(h.log, h.tel), recoveryMiddleware(h.log))

	r.POST("/checkout", h.handleCheckout)
	r.POST("/coupons/validate", h.handleValidateCoupon)
	r.GET("/orders/:id", h.handleGetOrder)
	r.POST("/orders/:id/payment-intent", h.handleCreateIntent)
	r.POST("/payments/confirm", h.handleConfirmPayment)
	r.POST("/orders/:id/fulfill", h.handleFulfill)
	r.POST("/orders/:id/deliver", h.handleDeliver)
	r.POST("/orders/:id/cancel", h.handleCancel)
	r.POST("/orders/:id/refund", h.handleRefund)
	r.GET("/payouts", h.handleListPayouts)
	r.GET("/healthz", h.handleHealth)

	if h.webhookSecret != "" {
		r.POST("/webhooks/stripe", h.handleStripeWebhook)
	}

	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// actorFrom derives the acting identity once per request. The edge proxy is
// trusted to authenticate and set these headers; an absent role defaults to
// buyer so a stray internal header can never grant admin.
func actorFrom(c *gin.Context) access.Actor {
	actor := access.Actor{
		ID:   c.GetHeader(headerUserID),
		Role: access.RoleBuyer,
	}
	switch access.Role(c.GetHeader(headerUserRole)) {
	case access.RoleSeller:
		actor.Role = access.RoleSeller
	case access.RoleAdmin:
		actor.Role = access.RoleAdmin
	case access.RoleSystem:
		actor.Role = access.RoleSystem
	}
	return actor
}

func (h *Handler) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if !bindJSON(c, &req, h.validate) {
		return
	}

	lines := make([]appcheckout.LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, appcheckout.LineInput{
			ProductID:   l.ProductID,
			VariationID: l.VariationID,
			Quantity:    l.Quantity,
		})
	}

	result, err := h.checkout.Execute(c.Request.Context(), appcheckout.Input{
		Actor:      actorFrom(c),
		Lines:      lines,
		CouponCode: req.CouponCode,
		Billing:    req.Billing.toDomain(),
		Shipping:   req.Shipping.toDomain(),
		Notes:      req.Notes,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(result.Order))
}

func (h *Handler) handleValidateCoupon(c *gin.Context) {
	var req validateCouponRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	result, err := h.validateCoupon.Execute(c.Request.Context(), appcheckout.ValidateCouponInput{
		Code:     req.Code,
		BuyerID:  actorFrom(c).ID,
		Subtotal: req.Subtotal,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":            result.Code,
		"type":            result.Type,
		"discount_amount": result.DiscountAmount,
	})
}

func (h *Handler) handleGetOrder(c *gin.Context) {
	o, err := h.getOrder.Execute(c.Request.Context(), appcheckout.GetOrderInput{
		Actor:   actorFrom(c),
		OrderID: c.Param("id"),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

func (h *Handler) handleCreateIntent(c *gin.Context) {
	result, err := h.createIntent.Execute(c.Request.Context(), apppayment.CreateIntentInput{
		Actor:   actorFrom(c),
		OrderID: c.Param("id"),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment":       newPaymentResponse(result.Payment),
		"client_secret": result.ClientSecret,
	})
}

func (h *Handler) handleConfirmPayment(c *gin.Context) {
	var req confirmRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	result, err := h.confirmPayment.Execute(c.Request.Context(), apppayment.ConfirmInput{
		TransactionID: req.TransactionID,
		Succeeded:     req.Succeeded,
		FailureReason: req.FailureReason,
		Payload:       req.Payload,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment":      newPaymentResponse(result.Payment),
		"order_status": result.OrderStatus,
	})
}

func (h *Handler) handleFulfill(c *gin.Context) {
	var req fulfillRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	o, err := h.fulfillment.Fulfill(c.Request.Context(), appfulfillment.FulfillInput{
		Actor:          actorFrom(c),
		OrderID:        c.Param("id"),
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

func (h *Handler) handleDeliver(c *gin.Context) {
	o, err := h.fulfillment.Deliver(c.Request.Context(), appfulfillment.DeliverInput{
		Actor:   actorFrom(c),
		OrderID: c.Param("id"),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

func (h *Handler) handleCancel(c *gin.Context) {
	var req reasonRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	o, err := h.fulfillment.Cancel(c.Request.Context(), appfulfillment.CancelInput{
		Actor:   actorFrom(c),
		OrderID: c.Param("id"),
		Reason:  req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

func (h *Handler) handleRefund(c *gin.Context) {
	var req reasonRequest
	if !bindJSON(c, &req, nil) {
		return
	}

	o, err := h.fulfillment.Refund(c.Request.Context(), appfulfillment.RefundInput{
		Actor:   actorFrom(c),
		OrderID: c.Param("id"),
		Reason:  req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

// handleListPayouts returns the acting seller's ledger entries. Admins may
// inspect any seller via the seller_id query parameter.
func (h *Handler) handleListPayouts(c *gin.Context) {
	actor := actorFrom(c)
	sellerID := actor.ID
	if actor.Role == access.RoleAdmin {
		if q := c.Query("seller_id"); q != "" {
			sellerID = q
		}
	} else if actor.Role != access.RoleSeller {
		writeDomainError(c, access.ErrForbidden)
		return
	}

	limit, offset := paginationFrom(c)
	payouts, err := h.payouts.ListBySeller(c.Request.Context(), sellerID, limit, offset)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]payoutResponse, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, newPayoutResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"payouts": out})
}

func paginationFrom(c *gin.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func writeDomainError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, access.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrSellerNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, payout.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrOutOfStock),
		errors.Is(err, coupon.ErrExhausted):
		status = http.StatusConflict
	case errors.Is(err, payment.ErrDuplicate),
		errors.Is(err, apppayment.ErrOrderClosed),
		errors.Is(err, order.ErrInvalidStateTransition),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, payment.ErrTransition):
		status = http.StatusConflict
	case errors.Is(err, cart.ErrEmpty),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrInvalidQuantity),
		errors.Is(err, coupon.ErrInvalid),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, order.ErrInvalidAddress),
		errors.Is(err, order.ErrTrackingRequired),
		errors.Is(err, apppayment.ErrNotPayable):
		status = http.StatusBadRequest
	case errors.Is(err, payment.ErrDeclined),
		errors.Is(err, payment.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, payment.ErrGatewayUnavailable),
		errors.Is(err, payment.ErrNetwork):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
