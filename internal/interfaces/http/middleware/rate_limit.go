package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
	"github.com/propfolio/gatekeeper/internal/infrastructure/audit"
	"github.com/propfolio/gatekeeper/internal/infrastructure/monitoring"
	"github.com/propfolio/gatekeeper/internal/infrastructure/quota"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/errors"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

// CallerKey derives the admission subject from a request: the API key header
// when present, otherwise the client IP. The resolved key is stored on the
// gin context for downstream middleware and handlers.
func CallerKey(c *gin.Context) string {
	if key, ok := c.Get(string(constants.ContextKeyCallerKey)); ok {
		return key.(string)
	}

	key := c.GetHeader(constants.HeaderAPIKey)
	if key == "" {
		key = c.ClientIP()
	}
	c.Set(string(constants.ContextKeyCallerKey), key)
	return key
}

// RateLimit enforces the window limiter for a call site. Decision metadata is
// always reported through the X-RateLimit-* headers; denied requests are
// rejected with 429 and an audit event.
func RateLimit(
	limiter service.RateLimitService,
	auditSvc service.AuditService,
	metrics *monitoring.Metrics,
	log logger.Logger,
	rlContext constants.RateLimitContext,
	cfg models.RateLimitConfig,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CallerKey(c)
		ctx := c.Request.Context()

		start := time.Now()
		result, err := limiter.CheckRateLimit(ctx, key, cfg)
		if result == nil {
			result = &models.RateLimitResult{Limit: cfg.MaxRequests, Window: cfg.Window}
		}
		metrics.RecordRateLimitCheck(rlContext, result.Allowed, time.Since(start))

		c.Header(constants.HeaderRateLimitLimit, strconv.FormatInt(result.Limit, 10))
		c.Header(constants.HeaderRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
		c.Header(constants.HeaderRateLimitReset, strconv.FormatInt(result.ResetTime.Unix(), 10))

		if err != nil {
			metrics.RecordStoreFailure("check_rate_limit")
			appErr := errors.ErrStoreUnavailable(err)
			c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
			return
		}

		if !result.Allowed {
			log.Warn(ctx, "Rate limit exceeded",
				logger.String("key", key),
				logger.String("context", string(rlContext)),
				logger.Int64("limit", result.Limit),
			)
			_ = auditSvc.LogEvent(ctx, audit.RateLimitExceeded(key, result.Limit, rlContext))

			appErr := errors.ErrRateLimitExceeded(key, result.Limit)
			c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
			return
		}

		c.Next()
	}
}

// Quota enforces the usage quota. Usage is recorded only after admission; a
// denied request does not consume quota.
func Quota(
	quotaSvc service.QuotaService,
	auditSvc service.AuditService,
	metrics *monitoring.Metrics,
	log logger.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CallerKey(c)
		ctx := c.Request.Context()

		decision := quotaSvc.HasAvailableQuota(ctx, key)
		metrics.RecordQuotaCheck(decision.HasQuota, quotaPeriod(decision.Reason))

		if !decision.HasQuota {
			log.Warn(ctx, "Quota exceeded",
				logger.String("key", key),
				logger.String("reason", decision.Reason),
			)
			_ = auditSvc.LogEvent(ctx, audit.QuotaExceeded(key, decision.Reason))

			appErr := errors.ErrQuotaExceeded(key, decision.Reason)
			c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.ToErrorResponse(appErr))
			return
		}

		quotaSvc.RecordUsage(ctx, key, c.GetString("user_id"))
		c.Next()
	}
}

func quotaPeriod(reason string) string {
	switch reason {
	case "":
		return "none"
	case quota.ReasonDailyQuotaExceeded:
		return "daily"
	case quota.ReasonMonthlyQuotaExceeded:
		return "monthly"
	default:
		return "unknown"
	}
}
