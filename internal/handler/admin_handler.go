package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/yugalbansal1/eticket1/internal/dto"
	"github.com/yugalbansal1/eticket1/internal/service"
	"github.com/yugalbansal1/eticket1/pkg/response"
)

// AdminHandler handles dashboard and reconciliation HTTP requests
type AdminHandler struct {
	dashboard  service.DashboardService
	settlement service.SettlementService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(dashboard service.DashboardService, settlement service.SettlementService) *AdminHandler {
	return &AdminHandler{
		dashboard:  dashboard,
		settlement: settlement,
	}
}

// AdminDashboard handles GET /admin/dashboard
func (h *AdminHandler) AdminDashboard(c *gin.Context) {
	stats, err := h.dashboard.AdminStats(c.Request.Context(), sessionFrom(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}

// OrganizerDashboard handles GET /organizer/dashboard
func (h *AdminHandler) OrganizerDashboard(c *gin.Context) {
	stats, err := h.dashboard.OrganizerStats(c.Request.Context(), sessionFrom(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}

// ListAlerts handles GET /admin/reconciliation
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	var q dto.AlertListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	alerts, err := h.settlement.ListReconciliationAlerts(c.Request.Context(), sessionFrom(c), q.OpenOnly)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, alerts, len(alerts))
}

// ResolveAlert handles POST /admin/reconciliation/:id/resolve
func (h *AdminHandler) ResolveAlert(c *gin.Context) {
	var req dto.ResolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	alert, err := h.settlement.ResolveReconciliationAlert(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Note)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, alert)
}
