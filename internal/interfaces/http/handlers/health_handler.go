package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propfolio/gatekeeper/internal/infrastructure/persistence/redis"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	redis *redis.Connection
	log   logger.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(conn *redis.Connection, log logger.Logger) *HealthHandler {
	return &HealthHandler{redis: conn, log: log}
}

// HealthCheck reports the health of the service and its store.
// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	status := "healthy"
	httpStatus := http.StatusOK

	redisStatus, err := h.redis.HealthCheck(ctx)
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		h.log.Warn(ctx, "Health check failed against store")
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"redis": redisStatus,
		},
	})
}

// ReadinessCheck reports whether the service can accept traffic. Admission
// decisions require the store, so readiness follows the store's health.
// GET /ready
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if err := h.redis.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// LivenessCheck reports that the process is running.
// GET /live
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
