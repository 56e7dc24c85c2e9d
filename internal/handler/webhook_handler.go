package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/gateway"
	"github.com/yugalbansal1/eticket1/internal/service"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"github.com/yugalbansal1/eticket1/pkg/response"
	"github.com/yugalbansal1/eticket1/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives signed provider callbacks
type WebhookHandler struct {
	settlement   service.SettlementService
	stripeSecret string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(settlement service.SettlementService, stripeSecret string) *WebhookHandler {
	return &WebhookHandler{settlement: settlement, stripeSecret: stripeSecret}
}

// Stripe handles POST /webhooks/stripe.
// Outcomes the settlement core has decided, including reconciliation conflicts,
// are acknowledged so Stripe stops redelivering; infrastructure failures return 500
// so it retries.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.webhook.stripe")
	defer span.End()

	if h.stripeSecret == "" {
		response.Error(c, http.StatusServiceUnavailable, &response.ErrorData{
			Code:    "WEBHOOK_DISABLED",
			Message: "hosted checkout is not configured",
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}

	reservationID, result, err := gateway.ParseStripeEvent(payload, c.GetHeader("Stripe-Signature"), h.stripeSecret)
	if err != nil {
		if errors.Is(err, gateway.ErrIgnoredEvent) {
			response.Success(c, gin.H{"received": true, "ignored": true})
			return
		}
		telemetry.RecordError(span, err)
		logger.Get().Warn("Rejected Stripe webhook", zap.Error(err))
		response.BadRequest(c, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("outcome", string(result.Outcome)),
	)

	_, err = h.settlement.HandlePaymentOutcome(ctx, gateway.KindHostedCheckout, reservationID, result)
	if err != nil && !settled(err) {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}
	if err != nil {
		logger.Get().Info("Stripe webhook settled without confirmation",
			zap.String("reservation_id", reservationID),
			zap.String("code", errorCode(err)),
		)
	}
	response.Success(c, gin.H{"received": true})
}

// settled reports errors that are final answers rather than failures to process
func settled(err error) bool {
	return domain.IsPaymentError(err) ||
		domain.IsNotFoundError(err) ||
		errors.Is(err, domain.ErrReconciliationConflict) ||
		errors.Is(err, domain.ErrAlreadyTerminal) ||
		errors.Is(err, domain.ErrReservationExpired)
}
