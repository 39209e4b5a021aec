package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/domain/payout"
)

type lineRequest struct {
	ProductID   string `json:"product_id" binding:"required"`
	VariationID string `json:"variation_id"`
	Quantity    int    `json:"quantity" binding:"required,gt=0"`
}

type addressRequest struct {
	Name       string `json:"name" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required,len=2"`
	Phone      string `json:"phone"`
}

func (a addressRequest) toDomain() order.Address {
	return order.Address{
		Name:       a.Name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type checkoutRequest struct {
	Lines      []lineRequest  `json:"lines" binding:"required,min=1,dive"`
	CouponCode string         `json:"coupon_code"`
	Billing    addressRequest `json:"billing_address" binding:"required"`
	Shipping   addressRequest `json:"shipping_address" binding:"required"`
	Notes      string         `json:"notes"`
}

type validateCouponRequest struct {
	Code     string          `json:"code" binding:"required"`
	Subtotal decimal.Decimal `json:"subtotal" binding:"required"`
}

type fulfillRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type confirmRequest struct {
	TransactionID string          `json:"transaction_id" binding:"required"`
	Succeeded     bool            `json:"succeeded"`
	FailureReason string          `json:"failure_reason"`
	Payload       json.RawMessage `json:"payload"`
}

// newValidator registers the struct-level cart check: the same
// (product, variation) pair must not appear on two lines, because reservation
// treats each line independently and a split pair would double-count.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(checkoutStructValidation, checkoutRequest{})
	return v
}

func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(checkoutRequest)
	seen := make(map[[2]string]struct{}, len(req.Lines))
	for _, l := range req.Lines {
		key := [2]string{l.ProductID, l.VariationID}
		if _, dup := seen[key]; dup {
			sl.ReportError(req.Lines, "lines", "Lines", "unique_product_lines", l.ProductID)
			return
		}
		seen[key] = struct{}{}
	}
}

func bindJSON(c *gin.Context, out any, v *validatorv10.Validate) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "detail": err.Error()})
		return false
	}
	if v != nil {
		if err := v.Struct(out); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": validationErrors(err)})
			return false
		}
	}
	return true
}

func validationErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.StructNamespace()] = fe.Tag()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}

type itemResponse struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	SellerID   string          `json:"seller_id"`
	Title      string          `json:"title"`
	SKU        string          `json:"sku"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type groupResponse struct {
	SellerID string          `json:"seller_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
}

type orderResponse struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	Status         order.Status    `json:"status"`
	Currency       string          `json:"currency"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Shipping       decimal.Decimal `json:"shipping"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Items          []itemResponse  `json:"items"`
	Groups         []groupResponse `json:"seller_groups"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		Number:         o.Number,
		Status:         o.Status,
		Currency:       o.Currency,
		Subtotal:       o.Subtotal,
		Tax:            o.Tax,
		Shipping:       o.Shipping,
		Discount:       o.Discount,
		Total:          o.Total,
		CouponCode:     o.CouponCode,
		TrackingNumber: o.TrackingNumber,
		Items:          make([]itemResponse, 0, len(o.Items)),
		Groups:         make([]groupResponse, 0, len(o.Groups)),
		CreatedAt:      o.CreatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, itemResponse{
			ID:         it.ID,
			ProductID:  it.ProductID,
			SellerID:   it.SellerID,
			Title:      it.Title,
			SKU:        it.SKU,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		})
	}
	for _, g := range o.Groups {
		resp.Groups = append(resp.Groups, groupResponse{
			SellerID: g.SellerID,
			Subtotal: g.Subtotal,
			Discount: g.Discount,
		})
	}
	return resp
}

type paymentResponse struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Status        payment.Status  `json:"status"`
	Attempt       int             `json:"attempt"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

func newPaymentResponse(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Status:        p.Status,
		Attempt:       p.Attempt,
		Amount:        p.Amount,
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
	}
}

type payoutResponse struct {
	ID               string          `json:"id"`
	SellerID         string          `json:"seller_id"`
	OrderID          string          `json:"order_id"`
	OrderItemID      string          `json:"order_item_id"`
	Amount           decimal.Decimal `json:"amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	Status           payout.Status   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

func newPayoutResponse(p *payout.Payout) payoutResponse {
	return payoutResponse{
		ID:               p.ID,
		SellerID:         p.SellerID,
		OrderID:          p.OrderID,
		OrderItemID:      p.OrderItemID,
		Amount:           p.Amount,
		CommissionRate:   p.CommissionRate,
		CommissionAmount: p.CommissionAmount,
		NetAmount:        p.NetAmount,
		Status:           p.Status,
		CreatedAt:        p.CreatedAt,
	}
}
