package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/swiftride/service-tracking/internal/application"
	"github.com/swiftride/service-tracking/internal/auth"
	"github.com/swiftride/service-tracking/internal/middleware"
	"github.com/swiftride/service-tracking/internal/response"
)

// AdminTrackingHandler handles admin HTTP requests for monitoring oversight.
type AdminTrackingHandler struct {
	service *application.TrackingService
}

// NewAdminTrackingHandler creates a new AdminTrackingHandler.
func NewAdminTrackingHandler(service *application.TrackingService) *AdminTrackingHandler {
	return &AdminTrackingHandler{service: service}
}

// RegisterRoutes registers admin tracking routes.
func (h *AdminTrackingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/trips", h.ListTrips)
		admin.GET("/alerts", h.ListAlerts)
		admin.GET("/stats/alerts", h.AlertStats)
		admin.GET("/monitoring/sessions", h.ListSessions)
		admin.DELETE("/trips/:id/monitoring", h.ForceStopMonitoring)
	}
}

// ListTrips handles GET /api/v1/admin/trips.
func (h *AdminTrackingHandler) ListTrips(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	trips, total, err := h.service.ListTrips(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, trips, total, page, limit)
}

// ListAlerts handles GET /api/v1/admin/alerts. Accepts an optional
// severity query parameter.
func (h *AdminTrackingHandler) ListAlerts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	alerts, total, err := h.service.ListAllAlerts(c.Request.Context(), c.Query("severity"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, alerts, total, page, limit)
}

// AlertStats handles GET /api/v1/admin/stats/alerts.
func (h *AdminTrackingHandler) AlertStats(c *gin.Context) {
	stats, err := h.service.GetAlertStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

// ListSessions handles GET /api/v1/admin/monitoring/sessions.
func (h *AdminTrackingHandler) ListSessions(c *gin.Context) {
	response.Success(c, h.service.ListActiveSessions())
}

// ForceStopMonitoring handles DELETE /api/v1/admin/trips/:id/monitoring.
func (h *AdminTrackingHandler) ForceStopMonitoring(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	h.service.ForceStopMonitoring(c.Request.Context(), tripID)
	response.Success(c, gin.H{"trip_id": tripID.String(), "active": false})
}
