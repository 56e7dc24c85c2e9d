package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"github.com/yugalbansal1/eticket1/pkg/middleware"
	"github.com/yugalbansal1/eticket1/pkg/response"
	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// order matters: the first sentinel found in the chain wins
var errorMappings = []errorMapping{
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},

	{domain.ErrReconciliationConflict, http.StatusConflict, "RECONCILIATION_CONFLICT"},
	{domain.ErrInsufficientCapacity, http.StatusConflict, "INSUFFICIENT_CAPACITY"},
	{domain.ErrReservationExpired, http.StatusGone, "RESERVATION_EXPIRED"},
	{domain.ErrAlreadyTerminal, http.StatusConflict, "ALREADY_TERMINAL"},
	{domain.ErrEventNotOnSale, http.StatusConflict, "EVENT_NOT_ON_SALE"},
	{domain.ErrTierInUse, http.StatusConflict, "TIER_IN_USE"},
	{domain.ErrCapacityBelowCommitted, http.StatusConflict, "CAPACITY_BELOW_COMMITTED"},
	{domain.ErrInvalidTicketTransition, http.StatusConflict, "INVALID_TICKET_TRANSITION"},
	{domain.ErrReservationNotConfirmed, http.StatusConflict, "RESERVATION_NOT_CONFIRMED"},

	{domain.ErrPaymentTimeout, http.StatusGatewayTimeout, "PAYMENT_TIMEOUT"},
	{domain.ErrPaymentNetworkError, http.StatusBadGateway, "PAYMENT_NETWORK_ERROR"},
	{domain.ErrPaymentUnverified, http.StatusUnprocessableEntity, "PAYMENT_UNVERIFIED"},
	{domain.ErrPaymentRejected, http.StatusPaymentRequired, "PAYMENT_REJECTED"},
	{domain.ErrPaymentCancelledByUser, http.StatusConflict, "PAYMENT_CANCELLED"},

	{domain.ErrReservationNotFound, http.StatusNotFound, "RESERVATION_NOT_FOUND"},
	{domain.ErrEventNotFound, http.StatusNotFound, "EVENT_NOT_FOUND"},
	{domain.ErrTierNotFound, http.StatusNotFound, "TIER_NOT_FOUND"},
	{domain.ErrTicketNotFound, http.StatusNotFound, "TICKET_NOT_FOUND"},
	{domain.ErrAlertNotFound, http.StatusNotFound, "ALERT_NOT_FOUND"},

	{domain.ErrInvalidQuantity, http.StatusBadRequest, "INVALID_QUANTITY"},
	{domain.ErrInvalidEvent, http.StatusBadRequest, "INVALID_EVENT"},
	{domain.ErrInvalidTier, http.StatusBadRequest, "INVALID_TIER"},
	{domain.ErrInvalidPrice, http.StatusBadRequest, "INVALID_PRICE"},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, "INVALID_CAPACITY"},
	{domain.ErrDuplicateTierName, http.StatusBadRequest, "DUPLICATE_TIER_NAME"},
	{domain.ErrUnknownProvider, http.StatusBadRequest, "UNKNOWN_PROVIDER"},
	{domain.ErrInvalidRecipient, http.StatusBadRequest, "INVALID_RECIPIENT"},
}

// classify returns the HTTP status and stable code for err
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// errorCode returns the stable code for err, or "" for nil
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	_, code := classify(err)
	return code
}

// handleError writes err in the response envelope
func handleError(c *gin.Context, err error) {
	status, code := classify(err)

	if status == http.StatusInternalServerError {
		logger.Get().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err),
		)
		response.InternalError(c)
		return
	}

	data := &response.ErrorData{
		Code:      code,
		Message:   err.Error(),
		Retryable: domain.IsRetryable(err),
	}
	if se, ok := domain.AsSettlementError(err); ok {
		details := map[string]string{}
		if se.EventID != "" {
			details["event_id"] = se.EventID
		}
		if se.TierID != "" {
			details["tier_id"] = se.TierID
		}
		if se.ReservationID != "" {
			details["reservation_id"] = se.ReservationID
		}
		if len(details) > 0 {
			data.Details = details
		}
	}
	response.Error(c, status, data)
}

// sessionFrom builds the caller session from the auth middleware values.
// Anonymous callers get nil.
func sessionFrom(c *gin.Context) *domain.Session {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return nil
	}
	role, _ := middleware.GetRole(c)
	return &domain.Session{UserID: userID, Role: domain.Role(role)}
}
