package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
	"github.com/propfolio/gatekeeper/internal/infrastructure/audit"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/errors"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

// AdminHandler exposes the administrative surface: quota configuration,
// usage reporting, and counter resets.
type AdminHandler struct {
	rateLimiter service.RateLimitService
	quotas      service.QuotaService
	auditSvc    service.AuditService
	defaultTier constants.QuotaTier
	logger      logger.Logger
}

// NewAdminHandler creates a new AdminHandler. defaultTier seeds the limits
// for callers configured without explicit values or a named tier.
func NewAdminHandler(
	rateLimiter service.RateLimitService,
	quotas service.QuotaService,
	auditSvc service.AuditService,
	defaultTier constants.QuotaTier,
	log logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		rateLimiter: rateLimiter,
		quotas:      quotas,
		auditSvc:    auditSvc,
		defaultTier: defaultTier,
		logger:      log,
	}
}

// QuotaLimitsRequest carries new ceilings for a caller. Either explicit limits
// or a named tier may be given; explicit limits win when both are present,
// and an empty request falls back to the configured default tier.
type QuotaLimitsRequest struct {
	DailyLimit   int64  `json:"dailyLimit"`
	MonthlyLimit int64  `json:"monthlyLimit"`
	Tier         string `json:"tier"`
}

// UsageStatsRequest names the callers to report usage percentages for.
type UsageStatsRequest struct {
	APIKeyIDs []string `json:"apiKeyIds" binding:"required"`
}

// GetQuota returns the quota state for a caller.
// GET /admin/v1/quotas/:key
func (h *AdminHandler) GetQuota(c *gin.Context) {
	key := c.Param("key")
	info := h.quotas.GetQuotaInfo(c.Request.Context(), key)
	if info == nil {
		appErr := errors.ErrNotFound("quota configuration")
		c.JSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
		return
	}
	c.JSON(http.StatusOK, info)
}

// SetQuota validates and persists new ceilings for a caller.
// PUT /admin/v1/quotas/:key
func (h *AdminHandler) SetQuota(c *gin.Context) {
	key := c.Param("key")

	var req QuotaLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, errors.ErrInvalidRequest(err.Error()), "set_quota")
		return
	}

	daily, monthly := req.DailyLimit, req.MonthlyLimit
	if daily == 0 && monthly == 0 {
		tier := constants.QuotaTier(req.Tier)
		if tier == "" {
			tier = h.defaultTier
		}
		limits, ok := models.DefaultQuotaLimits()[tier]
		if !ok {
			h.handleError(c, errors.ErrInvalidRequest("unknown tier: "+string(tier)), "set_quota")
			return
		}
		daily, monthly = limits.DailyLimit, limits.MonthlyLimit
	}

	if err := h.quotas.SetQuotaLimits(c.Request.Context(), key, daily, monthly); err != nil {
		h.handleError(c, err, "set_quota")
		return
	}

	h.logger.Info(c.Request.Context(), "Quota limits updated",
		logger.String("key", key),
		logger.Int64("daily_limit", daily),
		logger.Int64("monthly_limit", monthly),
	)
	if err := h.auditSvc.LogEvent(c.Request.Context(), audit.QuotaLimitsChanged(key, daily, monthly)); err != nil {
		h.logger.Warn(c.Request.Context(), "Failed to publish audit event", logger.String("key", key))
	}

	info := h.quotas.GetQuotaInfo(c.Request.Context(), key)
	c.JSON(http.StatusOK, info)
}

// ResetQuota deletes the period counters for a caller.
// DELETE /admin/v1/quotas/:key/usage
func (h *AdminHandler) ResetQuota(c *gin.Context) {
	key := c.Param("key")
	h.quotas.ResetQuota(c.Request.Context(), key)

	h.logger.Info(c.Request.Context(), "Quota counters reset", logger.String("key", key))
	if err := h.auditSvc.LogEvent(c.Request.Context(), audit.QuotaReset(key)); err != nil {
		h.logger.Warn(c.Request.Context(), "Failed to publish audit event", logger.String("key", key))
	}

	c.AbortWithStatus(http.StatusNoContent)
}

// UsageStats reports usage percentages for a batch of callers.
// POST /admin/v1/quotas/usage-stats
func (h *AdminHandler) UsageStats(c *gin.Context) {
	var req UsageStatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, errors.ErrInvalidRequest(err.Error()), "usage_stats")
		return
	}

	stats := h.quotas.GetQuotaUsageStats(c.Request.Context(), req.APIKeyIDs)
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// GetRateLimit returns the live window state for a caller.
// GET /admin/v1/rate-limits/:key
func (h *AdminHandler) GetRateLimit(c *gin.Context) {
	key := c.Param("key")
	info := h.rateLimiter.GetRateLimitInfo(c.Request.Context(), key)
	if info == nil {
		appErr := errors.ErrNotFound("rate limit window")
		c.JSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
		return
	}
	c.JSON(http.StatusOK, info)
}

// ResetRateLimit removes the window counter for a caller.
// DELETE /admin/v1/rate-limits/:key
func (h *AdminHandler) ResetRateLimit(c *gin.Context) {
	key := c.Param("key")
	h.rateLimiter.ResetRateLimit(c.Request.Context(), key)

	h.logger.Info(c.Request.Context(), "Rate limit window reset", logger.String("key", key))
	c.AbortWithStatus(http.StatusNoContent)
}

// handleError maps a failure to its HTTP representation.
func (h *AdminHandler) handleError(c *gin.Context, err error, operation string) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		h.logger.Error(c.Request.Context(), "Unexpected error in admin operation", err,
			logger.String("operation", operation))
		c.JSON(http.StatusInternalServerError, errors.ToErrorResponse(err))
		return
	}

	h.logger.Warn(c.Request.Context(), "Admin operation rejected",
		logger.String("operation", operation),
		logger.String("error_code", string(appErr.Code())),
		logger.String("error", appErr.Error()))

	c.JSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
}
