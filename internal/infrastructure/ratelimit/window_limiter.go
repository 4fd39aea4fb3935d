// Package ratelimit provides distributed request-window limiting using Redis.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
	"github.com/propfolio/gatekeeper/internal/infrastructure/monitoring"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/errors"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

var _ service.RateLimitService = (*WindowLimiter)(nil)

// WindowLimiter enforces "at most N requests per caller per fixed window"
// against a shared Redis store. The read-check-increment runs as one Lua
// script, so two concurrent checks for the same key can never both observe
// room below the ceiling and both be admitted past it. The limiter holds no
// mutable state between calls and is safe for concurrent use.
type WindowLimiter struct {
	client   redis.UniversalClient
	logger   logger.Logger
	failOpen bool
	script   *redis.Script
}

// windowScript performs the atomic read-check-increment for a fixed window.
//
// KEYS[1] window counter key
// ARGV[1] window length in milliseconds
// ARGV[2] admission ceiling
//
// Returns {allowed, count, ttl_ms}. The counter key carries its own expiry
// equal to the window length, set on first increment; window rollover is the
// key expiring. A non-positive window length removes any counter state, so no
// window constraint is remembered between calls.
const windowScript = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local max_requests = tonumber(ARGV[2])

if window_ms <= 0 then
    redis.call('DEL', key)
    if max_requests <= 0 then
        return {0, 0, 0}
    end
    return {1, 1, 0}
end

local count = tonumber(redis.call('GET', key) or '0')

if count >= max_requests then
    local ttl = redis.call('PTTL', key)
    if ttl < 0 then
        ttl = window_ms
    end
    return {0, count, ttl}
end

count = redis.call('INCR', key)
if count == 1 then
    redis.call('PEXPIRE', key, window_ms)
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
    ttl = window_ms
end
return {1, count, ttl}
`

// NewWindowLimiter creates a Redis-backed window limiter.
func NewWindowLimiter(client redis.UniversalClient, cfg *config.RateLimitConfig, log logger.Logger) *WindowLimiter {
	failOpen := true
	if cfg != nil {
		failOpen = cfg.FailOpen
	}

	return &WindowLimiter{
		client:   client,
		logger:   log.WithComponent("window_limiter"),
		failOpen: failOpen,
		script:   redis.NewScript(windowScript),
	}
}

// CheckRateLimit decides whether a new request from key is admitted under cfg.
//
// The store failure policy is fail-open by default: when the script cannot be
// executed the request is admitted with Remaining 0 and the limit and window
// echoed from the supplied configuration. With fail-open disabled the check
// returns a store error and denies.
func (wl *WindowLimiter) CheckRateLimit(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitResult, error) {
	ctx, span := monitoring.StartSpan(ctx, "WindowLimiter.CheckRateLimit",
		trace.WithAttributes(attribute.String("ratelimit.key", key)))
	defer span.End()

	now := time.Now()

	raw, err := wl.script.Run(ctx, wl.client,
		[]string{wl.counterKey(key)},
		cfg.Window.Milliseconds(),
		cfg.MaxRequests,
	).Result()
	if err != nil {
		return wl.handleStoreFailure(ctx, key, cfg, err)
	}

	allowed, count, ttlMs, err := parseWindowReply(raw)
	if err != nil {
		return wl.handleStoreFailure(ctx, key, cfg, err)
	}

	result := &models.RateLimitResult{
		Allowed:       allowed,
		Limit:         cfg.MaxRequests,
		Remaining:     0,
		Window:        cfg.Window,
		ResetTime:     now.Add(time.Duration(ttlMs) * time.Millisecond),
		TotalRequests: count,
	}
	if allowed && cfg.MaxRequests > count {
		result.Remaining = cfg.MaxRequests - count
	}

	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))

	if !allowed {
		wl.logger.Debug(ctx, "Rate limit exceeded",
			logger.String("key", key),
			logger.Int64("limit", cfg.MaxRequests),
			logger.Int64("count", count),
		)
	}

	return result, nil
}

// handleStoreFailure applies the failure policy to a failed atomic check.
func (wl *WindowLimiter) handleStoreFailure(ctx context.Context, key string, cfg models.RateLimitConfig, err error) (*models.RateLimitResult, error) {
	if !wl.failOpen {
		wl.logger.Error(ctx, "Rate limit check failed, denying (fail-closed)", err,
			logger.String("key", key))
		return &models.RateLimitResult{
			Allowed: false,
			Limit:   cfg.MaxRequests,
			Window:  cfg.Window,
		}, errors.ErrStoreUnavailable(err)
	}

	wl.logger.Warn(ctx, "Rate limit check failed, admitting (fail-open)",
		logger.String("key", key),
		logger.String("error", err.Error()),
	)

	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: 0,
		Window:    cfg.Window,
		ResetTime: time.Now().Add(cfg.Window),
	}, nil
}

// ResetRateLimit removes the window counter for key. Best effort: a store
// error is logged and swallowed.
func (wl *WindowLimiter) ResetRateLimit(ctx context.Context, key string) {
	if err := wl.client.Del(ctx, wl.counterKey(key)).Err(); err != nil && err != redis.Nil {
		wl.logger.Warn(ctx, "Failed to reset rate limit",
			logger.String("key", key),
			logger.String("error", err.Error()),
		)
	}
}

// GetRateLimitInfo returns the current window state for key. It returns nil
// both when the key is absent and when the stored value cannot be parsed;
// callers cannot distinguish the two and should treat both as "no info".
func (wl *WindowLimiter) GetRateLimitInfo(ctx context.Context, key string) *models.RateLimitInfo {
	counterKey := wl.counterKey(key)

	val, err := wl.client.Get(ctx, counterKey).Result()
	if err != nil {
		return nil
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}

	resetTime := time.Now()
	if ttl, err := wl.client.PTTL(ctx, counterKey).Result(); err == nil && ttl > 0 {
		resetTime = resetTime.Add(ttl)
	}

	return &models.RateLimitInfo{
		Count:     count,
		ResetTime: resetTime,
	}
}

func (wl *WindowLimiter) counterKey(key string) string {
	return constants.RateLimitKeyPrefix + key
}

// parseWindowReply decodes the {allowed, count, ttl_ms} script reply.
func parseWindowReply(raw interface{}) (bool, int64, int64, error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 3 {
		return false, 0, 0, errors.ErrServerError("unexpected rate limit script reply")
	}

	allowed, ok := reply[0].(int64)
	if !ok {
		return false, 0, 0, errors.ErrServerError("unexpected rate limit script reply")
	}
	count, ok := reply[1].(int64)
	if !ok {
		return false, 0, 0, errors.ErrServerError("unexpected rate limit script reply")
	}
	ttlMs, ok := reply[2].(int64)
	if !ok {
		return false, 0, 0, errors.ErrServerError("unexpected rate limit script reply")
	}

	return allowed == 1, count, ttlMs, nil
}
