package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/yugalbansal1/eticket1/internal/service"
	"github.com/yugalbansal1/eticket1/pkg/response"
)

// TicketHandler handles ticket HTTP requests
type TicketHandler struct {
	issuer service.TicketIssuer
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(issuer service.TicketIssuer) *TicketHandler {
	return &TicketHandler{issuer: issuer}
}

// ListMine handles GET /tickets
func (h *TicketHandler) ListMine(c *gin.Context) {
	tickets, err := h.issuer.ListByBuyer(c.Request.Context(), sessionFrom(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, tickets, len(tickets))
}

// ListByEvent handles GET /events/:id/tickets
func (h *TicketHandler) ListByEvent(c *gin.Context) {
	tickets, err := h.issuer.ListByEvent(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, tickets, len(tickets))
}

// Get handles GET /tickets/:id
func (h *TicketHandler) Get(c *gin.Context) {
	ticket, err := h.issuer.GetTicket(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ticket)
}

// CheckIn handles POST /tickets/:id/check-in
func (h *TicketHandler) CheckIn(c *gin.Context) {
	ticket, err := h.issuer.CheckIn(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ticket)
}

// Refund handles POST /tickets/:id/refund
func (h *TicketHandler) Refund(c *gin.Context) {
	ticket, err := h.issuer.Refund(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ticket)
}

// Cancel handles POST /tickets/:id/cancel
func (h *TicketHandler) Cancel(c *gin.Context) {
	ticket, err := h.issuer.CancelTicket(c.Request.Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ticket)
}
