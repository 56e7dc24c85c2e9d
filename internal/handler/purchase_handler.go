package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/yugalbansal1/eticket1/internal/dto"
	"github.com/yugalbansal1/eticket1/internal/service"
	"github.com/yugalbansal1/eticket1/pkg/response"
	"github.com/yugalbansal1/eticket1/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PurchaseHandler handles purchase HTTP requests.
// A purchase reserves synchronously and settles in the background;
// clients poll GET /purchases/:id for the payment handoff and the outcome.
type PurchaseHandler struct {
	settlement service.SettlementService
}

// NewPurchaseHandler creates a new purchase handler
func NewPurchaseHandler(settlement service.SettlementService) *PurchaseHandler {
	return &PurchaseHandler{settlement: settlement}
}

// Create handles POST /purchases
func (h *PurchaseHandler) Create(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.BadRequest(c, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("event_id", req.EventID),
		attribute.Int("quantity", req.Quantity),
		attribute.String("provider", req.Provider),
	)

	attempt, err := h.settlement.StartPurchase(ctx, sessionFrom(c), &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("reservation_id", attempt.ReservationID))
	span.SetStatus(codes.Ok, "")
	response.Accepted(c, dto.AttemptFromDomain(attempt, nil, ""))
}

// Get handles GET /purchases/:id
func (h *PurchaseHandler) Get(c *gin.Context) {
	attempt, handoff, err := h.settlement.GetAttempt(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.AttemptFromDomain(attempt, handoff, errorCode(attempt.Err)))
}

// Cancel handles POST /purchases/:id/cancel
func (h *PurchaseHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", c.Param("id")))

	attempt, err := h.settlement.Cancel(ctx, sessionFrom(c), c.Param("id"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	response.Success(c, dto.AttemptFromDomain(attempt, nil, errorCode(attempt.Err)))
}

// WalletCallback handles POST /payments/onchain/callback
func (h *PurchaseHandler) WalletCallback(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.wallet_callback")
	defer span.End()

	var req dto.WalletCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("reservation_id", req.ReservationID),
		attribute.String("tx_hash", req.TxHash),
	)

	attempt, err := h.settlement.ReportWalletOutcome(ctx, sessionFrom(c), req.ReservationID, req.ToOutcome())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	if attempt == nil {
		response.Accepted(c, gin.H{"reservation_id": req.ReservationID})
		return
	}
	response.Accepted(c, dto.AttemptFromDomain(attempt, nil, errorCode(attempt.Err)))
}
