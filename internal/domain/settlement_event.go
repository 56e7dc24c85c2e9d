package domain

import "time"

// SettlementEventType names a message published on the settlement topic
type SettlementEventType string

const (
	EventReservationCreated   SettlementEventType = "reservation.created"
	EventReservationConfirmed SettlementEventType = "reservation.confirmed"
	EventReservationReleased  SettlementEventType = "reservation.released"
	EventTicketIssued         SettlementEventType = "ticket.issued"
	EventTicketStatusChanged  SettlementEventType = "ticket.status_changed"
	EventReconciliationAlert  SettlementEventType = "reconciliation.alert"
)

// SettlementEvent is the envelope of every settlement message.
// Messages are keyed by tier so consumers see one tier's history in order.
type SettlementEvent struct {
	ID         string              `json:"id"`
	Type       SettlementEventType `json:"type"`
	Source     string              `json:"source"`
	OccurredAt time.Time           `json:"occurred_at"`
	TierID     string              `json:"tier_id,omitempty"`
	Data       interface{}         `json:"data"`
}

// Key returns the partition key
func (e *SettlementEvent) Key() string {
	if e.TierID != "" {
		return e.TierID
	}
	return e.ID
}
