package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrNoPendingPayment is returned by Deliver when no Execute call waits for the reservation
var ErrNoPendingPayment = errors.New("no pending payment for reservation")

type pendingPayment struct {
	result  chan *Result
	handoff *Handoff
}

// CallbackHub pairs asynchronous provider callbacks with the Execute call waiting on them
type CallbackHub struct {
	mu      sync.Mutex
	pending map[string]*pendingPayment
}

// NewCallbackHub creates a new CallbackHub
func NewCallbackHub() *CallbackHub {
	return &CallbackHub{pending: make(map[string]*pendingPayment)}
}

// Await publishes the handoff and blocks until a callback is delivered or ctx ends
func (h *CallbackHub) Await(ctx context.Context, handoff *Handoff) (*Result, error) {
	p := &pendingPayment{result: make(chan *Result, 1), handoff: handoff}

	h.mu.Lock()
	h.pending[handoff.ReservationID] = p
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.pending[handoff.ReservationID] == p {
			delete(h.pending, handoff.ReservationID)
		}
		h.mu.Unlock()
	}()

	select {
	case res := <-p.result:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver hands a provider outcome to the waiting Execute call.
// Only the first delivery per wait is accepted.
func (h *CallbackHub) Deliver(reservationID string, result *Result) error {
	h.mu.Lock()
	p, ok := h.pending[reservationID]
	if ok {
		delete(h.pending, reservationID)
	}
	h.mu.Unlock()

	if !ok {
		return ErrNoPendingPayment
	}
	p.result <- result
	return nil
}

// Handoff returns the payment details published for a waiting reservation
func (h *CallbackHub) Handoff(reservationID string) (*Handoff, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[reservationID]
	if !ok {
		return nil, false
	}
	c := *p.handoff
	return &c, true
}

// Pending returns the number of waiting payments
func (h *CallbackHub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
