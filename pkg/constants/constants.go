// Package constants defines system-wide constants for the Gatekeeper admission-control service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Key Namespace Constants
// ================================================================================

// The key namespace is shared with other services reading the same store and
// must not change.
const (
	// RateLimitKeyPrefix prefixes per-caller window counter keys.
	RateLimitKeyPrefix = "rate_limit:"

	// QuotaDailyKeyPrefix prefixes per-caller daily usage counter keys.
	QuotaDailyKeyPrefix = "api_quota:daily:"

	// QuotaMonthlyKeyPrefix prefixes per-caller monthly usage counter keys.
	QuotaMonthlyKeyPrefix = "api_quota:monthly:"

	// QuotaConfigKeyPrefix prefixes per-caller serialized quota configuration keys.
	QuotaConfigKeyPrefix = "api_quota:config:"
)

// ================================================================================
// Rate Limit Context Constants
// ================================================================================

// RateLimitContext names a preconfigured rate-limit policy.
type RateLimitContext string

const (
	// RateLimitContextAPI applies to generic API traffic
	RateLimitContextAPI RateLimitContext = "api"

	// RateLimitContextAuth applies to authentication endpoints
	RateLimitContextAuth RateLimitContext = "auth"

	// RateLimitContextUpload applies to upload endpoints
	RateLimitContextUpload RateLimitContext = "upload"

	// RateLimitContextSearch applies to search endpoints
	RateLimitContextSearch RateLimitContext = "search"
)

const (
	// DefaultMaxRequests is the request ceiling used when a custom
	// configuration does not specify one.
	DefaultMaxRequests = 100

	// DefaultRateLimitWindow is the window length used when a custom
	// configuration does not specify one.
	DefaultRateLimitWindow = 1 * time.Minute
)

// ================================================================================
// Quota Tier Constants
// ================================================================================

// QuotaTier names a preset of daily/monthly quota limits.
type QuotaTier string

const (
	// QuotaTierFree is the entry-level tier
	QuotaTierFree QuotaTier = "free"

	// QuotaTierBasic is the paid starter tier
	QuotaTierBasic QuotaTier = "basic"

	// QuotaTierPremium is the high-volume tier
	QuotaTierPremium QuotaTier = "premium"

	// QuotaTierEnterprise is the contract tier
	QuotaTierEnterprise QuotaTier = "enterprise"
)

const (
	// QuotaConfigTTL bounds the lifetime of a stored quota configuration
	// record so abandoned callers eventually age out. 35 days covers the
	// longest monthly period plus slack.
	QuotaConfigTTL = 35 * 24 * time.Hour

	// QuotaDailyCounterTTL bounds the lifetime of a daily usage counter.
	QuotaDailyCounterTTL = 48 * time.Hour

	// QuotaMonthlyCounterTTL bounds the lifetime of a monthly usage counter.
	QuotaMonthlyCounterTTL = 35 * 24 * time.Hour
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type used for request-scoped context values.
type ContextKey string

const (
	// ContextKeyRequestID carries the per-request correlation identifier
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyCallerKey carries the resolved caller key for the request
	ContextKeyCallerKey ContextKey = "caller_key"
)

// ================================================================================
// HTTP Header Constants
// ================================================================================

const (
	// HeaderRateLimitLimit reports the window ceiling to clients
	HeaderRateLimitLimit = "X-RateLimit-Limit"

	// HeaderRateLimitRemaining reports the remaining budget in the window
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset reports the window end as a Unix timestamp
	HeaderRateLimitReset = "X-RateLimit-Reset"

	// HeaderAPIKey carries the caller's API key identifier
	HeaderAPIKey = "X-API-Key"

	// HeaderRequestID carries the request correlation identifier
	HeaderRequestID = "X-Request-ID"
)

// ================================================================================
// Audit Event Constants
// ================================================================================

// AuditEventType classifies audit events emitted by the admission layer.
type AuditEventType string

const (
	// AuditEventRateLimitExceeded records a denied window-limiter check
	AuditEventRateLimitExceeded AuditEventType = "rate_limit.exceeded"

	// AuditEventQuotaExceeded records a denied quota check
	AuditEventQuotaExceeded AuditEventType = "quota.exceeded"

	// AuditEventQuotaLimitsChanged records an administrative limit change
	AuditEventQuotaLimitsChanged AuditEventType = "quota.limits_changed"

	// AuditEventQuotaReset records an administrative quota reset
	AuditEventQuotaReset AuditEventType = "quota.reset"
)
