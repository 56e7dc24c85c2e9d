package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/dto"
	"github.com/yugalbansal1/eticket1/internal/repository"
	"github.com/yugalbansal1/eticket1/internal/service"
	"github.com/yugalbansal1/eticket1/pkg/response"
	"github.com/yugalbansal1/eticket1/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// EventHandler handles catalog HTTP requests
type EventHandler struct {
	catalog service.CatalogService
}

// NewEventHandler creates a new event handler
func NewEventHandler(catalog service.CatalogService) *EventHandler {
	return &EventHandler{catalog: catalog}
}

// List handles GET /events
func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	events, err := h.catalog.ListEvents(c.Request.Context(), repository.EventFilter{
		Category:    domain.Category(q.Category),
		Status:      domain.EventStatus(q.Status),
		OrganizerID: q.OrganizerID,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	out := make([]*dto.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, dto.EventFromDomain(e, nil))
	}
	response.List(c, out, len(out))
}

// Get handles GET /events/:id with live tier availability
func (h *EventHandler) Get(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.get")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", c.Param("id")))

	event, err := h.catalog.GetEvent(ctx, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	inventory, err := h.catalog.Availability(ctx, event)
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.EventFromDomain(event, inventory))
}

// Create handles POST /events
func (h *EventHandler) Create(c *gin.Context) {
	var req dto.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	event, err := h.catalog.CreateEvent(c.Request.Context(), sessionFrom(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, dto.EventFromDomain(event, nil))
}

// Update handles PUT /events/:id
func (h *EventHandler) Update(c *gin.Context) {
	var req dto.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	event, err := h.catalog.UpdateEvent(c.Request.Context(), sessionFrom(c), c.Param("id"), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.EventFromDomain(event, nil))
}

// Delete handles DELETE /events/:id
func (h *EventHandler) Delete(c *gin.Context) {
	if err := h.catalog.DeleteEvent(c.Request.Context(), sessionFrom(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": c.Param("id")})
}
