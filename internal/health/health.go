package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const checkTimeout = 3 * time.Second

// CheckFunc reports whether a single dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Handler serves liveness and readiness endpoints.
type Handler struct {
	db      *gorm.DB
	service string
	checks  map[string]CheckFunc
}

// NewHandler creates a health Handler for the given service.
func NewHandler(db *gorm.DB, service string) *Handler {
	return &Handler{
		db:      db,
		service: service,
		checks:  make(map[string]CheckFunc),
	}
}

// AddCheck registers an additional named readiness check.
func (h *Handler) AddCheck(name string, fn CheckFunc) {
	h.checks[name] = fn
}

// RegisterRoutes registers the health endpoints on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Liveness)
	router.GET("/readyz", h.Readiness)
}

// Liveness handles GET /healthz. It always reports ok while the process runs.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
	})
}

// Readiness handles GET /readyz. It pings the database and every registered
// dependency check, reporting 503 when any of them fails.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	results := make(map[string]string)
	healthy := true

	if err := h.pingDB(ctx); err != nil {
		results["database"] = err.Error()
		healthy = false
	} else {
		results["database"] = "ok"
	}

	for name, fn := range h.checks {
		if err := fn(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
		} else {
			results[name] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status":  state,
		"service": h.service,
		"checks":  results,
	})
}

func (h *Handler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
