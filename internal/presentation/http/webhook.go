package httppresentation

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	apppayment "github.com/zestmarket/marketplace/internal/application/payment"
	"github.com/zestmarket/marketplace/internal/observability"
)

const webhookMaxBody = 64 << 10

// handleStripeWebhook applies provider callbacks. The signature check over the
// raw body is the authentication for this route; the confirm use case is
// idempotent, so Stripe's redeliveries are safe to apply again.
func (h *Handler) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhookMaxBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.log.Warn("webhook_signature_rejected", observability.F("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
	default:
		// Not an event this endpoint acts on; acknowledge so the provider
		// stops retrying.
		c.Status(http.StatusOK)
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}

	in := apppayment.ConfirmInput{
		TransactionID: intent.ID,
		Succeeded:     event.Type == stripe.EventTypePaymentIntentSucceeded,
		Payload:       json.RawMessage(event.Data.Raw),
	}
	if !in.Succeeded && intent.LastPaymentError != nil {
		in.FailureReason = string(intent.LastPaymentError.DeclineCode)
		if in.FailureReason == "" {
			in.FailureReason = intent.LastPaymentError.Msg
		}
	}

	result, err := h.confirmPayment.Execute(c.Request.Context(), in)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_status": result.OrderStatus})
}
