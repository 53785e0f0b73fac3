package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/swiftride/service-tracking/internal/application"
	"github.com/swiftride/service-tracking/internal/auth"
	"github.com/swiftride/service-tracking/internal/middleware"
	"github.com/swiftride/service-tracking/internal/response"
)

// TrackingHandler handles HTTP requests for trip monitoring operations.
type TrackingHandler struct {
	service *application.TrackingService
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(service *application.TrackingService) *TrackingHandler {
	return &TrackingHandler{service: service}
}

// RegisterRoutes registers all monitoring routes on the given router group.
func (h *TrackingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	trips := r.Group("/api/v1/trips")
	trips.Use(authMW)
	{
		trips.GET("/:id", h.GetTrip)
		trips.POST("/:id/monitoring", middleware.RequireRole(auth.RoleRunner), h.StartMonitoring)
		trips.GET("/:id/monitoring", h.GetMonitoringStatus)
		trips.DELETE("/:id/monitoring", middleware.RequireRole(auth.RoleRunner), h.StopMonitoring)
		trips.POST("/:id/location", middleware.RequireRole(auth.RoleRunner), h.RecordLocation)
		trips.GET("/:id/alerts", h.GetTripAlerts)
	}
}

// GetTrip handles GET /api/v1/trips/:id.
func (h *TrackingHandler) GetTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	result, err := h.service.GetTrip(c.Request.Context(), tripID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// StartMonitoring handles POST /api/v1/trips/:id/monitoring.
func (h *TrackingHandler) StartMonitoring(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	runnerID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req application.StartMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.StartTripMonitoring(c.Request.Context(), tripID, runnerID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// GetMonitoringStatus handles GET /api/v1/trips/:id/monitoring.
func (h *TrackingHandler) GetMonitoringStatus(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	result, err := h.service.GetMonitoringStatus(c.Request.Context(), tripID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// StopMonitoring handles DELETE /api/v1/trips/:id/monitoring.
func (h *TrackingHandler) StopMonitoring(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	runnerID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.service.StopTripMonitoring(c.Request.Context(), tripID, runnerID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"trip_id": tripID.String(), "active": false})
}

// RecordLocation handles POST /api/v1/trips/:id/location.
func (h *TrackingHandler) RecordLocation(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	runnerID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req application.RecordLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.RecordRunnerLocation(c.Request.Context(), tripID, runnerID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetTripAlerts handles GET /api/v1/trips/:id/alerts.
func (h *TrackingHandler) GetTripAlerts(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	page, limit := parsePagination(c)

	result, err := h.service.GetTripAlerts(c.Request.Context(), tripID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
