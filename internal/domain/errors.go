package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	// Ledger errors
	ErrInsufficientCapacity   = errors.New("insufficient capacity")
	ErrReservationExpired     = errors.New("reservation has expired")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrAlreadyTerminal        = errors.New("reservation already in a terminal state")
	ErrCapacityBelowCommitted = errors.New("capacity below sold plus held quantity")
	ErrTierInUse              = errors.New("tier has live holds or sold tickets")

	// Payment errors
	ErrPaymentRejected        = errors.New("payment rejected")
	ErrPaymentNetworkError    = errors.New("payment network error")
	ErrPaymentCancelledByUser = errors.New("payment cancelled by user")
	ErrPaymentTimeout         = errors.New("payment timed out")
	ErrPaymentUnverified      = errors.New("payment could not be verified")
	ErrReconciliationConflict = errors.New("payment succeeded without a live reservation")
	ErrUnknownProvider        = errors.New("unknown payment provider")
	ErrInvalidRecipient       = errors.New("invalid recipient address")

	// Catalog errors
	ErrEventNotFound     = errors.New("event not found")
	ErrTierNotFound      = errors.New("ticket tier not found")
	ErrEventNotOnSale    = errors.New("event is not on sale")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrInvalidTier       = errors.New("invalid ticket tier")
	ErrInvalidPrice      = errors.New("price must be a non-negative amount")
	ErrInvalidCapacity   = errors.New("capacity must be a non-negative integer")
	ErrDuplicateTierName = errors.New("duplicate tier name")

	// Request errors
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")

	// Ticket errors
	ErrTicketNotFound          = errors.New("ticket not found")
	ErrInvalidTicketTransition = errors.New("invalid ticket status transition")
	ErrReservationNotConfirmed = errors.New("reservation is not confirmed")

	ErrAlertNotFound = errors.New("reconciliation alert not found")
)

// SettlementError carries the identifiers a client needs to retry safely
type SettlementError struct {
	Op            string
	EventID       string
	TierID        string
	ReservationID string
	Err           error
}

func (e *SettlementError) Error() string {
	var parts []string
	if e.EventID != "" {
		parts = append(parts, "event="+e.EventID)
	}
	if e.TierID != "" {
		parts = append(parts, "tier="+e.TierID)
	}
	if e.ReservationID != "" {
		parts = append(parts, "reservation="+e.ReservationID)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, strings.Join(parts, " "), e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// AsSettlementError extracts the context carried by err, if any
func AsSettlementError(err error) (*SettlementError, bool) {
	var se *SettlementError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether the caller may retry with a fresh reservation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPaymentNetworkError) || errors.Is(err, ErrPaymentTimeout)
}

// IsPaymentError checks for any provider-reported payment outcome
func IsPaymentError(err error) bool {
	return errors.Is(err, ErrPaymentRejected) ||
		errors.Is(err, ErrPaymentNetworkError) ||
		errors.Is(err, ErrPaymentCancelledByUser) ||
		errors.Is(err, ErrPaymentTimeout)
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrTierNotFound) ||
		errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrAlertNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrDuplicateTierName) ||
		errors.Is(err, ErrUnknownProvider) ||
		errors.Is(err, ErrInvalidRecipient)
}

// IsConflictError checks if the error is a state conflict
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInsufficientCapacity) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrCapacityBelowCommitted) ||
		errors.Is(err, ErrTierInUse) ||
		errors.Is(err, ErrInvalidTicketTransition) ||
		errors.Is(err, ErrReconciliationConflict) ||
		errors.Is(err, ErrEventNotOnSale)
}
