// Package service defines the domain-service interfaces of the admission
// layer. Infrastructure packages provide the implementations; transport layers
// depend only on these interfaces.
package service

import (
	"context"

	"github.com/propfolio/gatekeeper/internal/domain/models"
)

// RateLimitService enforces "at most N requests per caller per window".
// Implementations delegate correctness to an atomic check-and-increment in the
// shared store; the service itself holds no mutable state and is safe for
// concurrent use.
type RateLimitService interface {
	// CheckRateLimit decides whether a new request from key is admitted
	// under cfg, and reports decision metadata. On store failure the
	// decision follows the configured failure policy (fail open by
	// default); the returned error is non-nil only when the policy is
	// fail-closed.
	CheckRateLimit(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitResult, error)

	// ResetRateLimit removes the window counter for key. Best effort:
	// store errors are swallowed.
	ResetRateLimit(ctx context.Context, key string)

	// GetRateLimitInfo returns the current window state for key, or nil
	// when the key is absent or its stored value is unreadable.
	GetRateLimitInfo(ctx context.Context, key string) *models.RateLimitInfo
}

// QuotaService enforces independently-resetting daily and monthly usage
// ceilings per caller.
type QuotaService interface {
	// HasAvailableQuota reports whether the caller is within both
	// ceilings. Absent configuration means "unchecked" and admits. On
	// store failure the decision follows the configured failure policy.
	HasAvailableQuota(ctx context.Context, key string) *models.QuotaDecision

	// RecordUsage increments the caller's daily and monthly counters,
	// resetting them first when a calendar period has rolled over. Errors
	// are swallowed; a failed increment is simply not counted.
	RecordUsage(ctx context.Context, key string, userID string)

	// GetQuotaInfo returns the caller's quota state, or nil when no
	// configuration exists or the stored record is unreadable.
	GetQuotaInfo(ctx context.Context, key string) *models.QuotaInfo

	// SetQuotaLimits validates and persists new ceilings for the caller,
	// preserving any existing usage counters. Only validation errors are
	// returned.
	SetQuotaLimits(ctx context.Context, key string, dailyLimit, monthlyLimit int64) error

	// ResetQuota deletes the caller's period counters. Idempotent; errors
	// are swallowed.
	ResetQuota(ctx context.Context, key string)

	// GetQuotaUsageStats reports usage percentages for each key, in input
	// order. Unconfigured keys yield zero percentages.
	GetQuotaUsageStats(ctx context.Context, keys []string) []models.QuotaUsageStat
}

// AuditService publishes admission-layer events to the audit stream.
type AuditService interface {
	// LogEvent records an audit event. Best effort.
	LogEvent(ctx context.Context, event models.AuditEvent) error

	// Close flushes and releases the underlying producer.
	Close() error
}
