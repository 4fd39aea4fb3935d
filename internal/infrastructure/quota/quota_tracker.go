// Package quota tracks per-caller daily and monthly API usage against a
// shared Redis store.
package quota

import (
	"context"
	"encoding/json"
	"math"
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

var _ service.QuotaService = (*QuotaTracker)(nil)

// Denial reasons reported by HasAvailableQuota. The daily reason takes
// precedence when both ceilings are exhausted.
const (
	ReasonDailyQuotaExceeded   = "Daily quota exceeded"
	ReasonMonthlyQuotaExceeded = "Monthly quota exceeded"
	ReasonQuotaUnavailable     = "Quota state unavailable"
)

// QuotaTracker enforces two independently-resetting usage ceilings per
// caller. Counters live in the shared store under their own keys and are only
// ever moved by atomic increments; the configuration record carries limits and
// rollover bookkeeping. The tracker holds no authoritative state of its own.
type QuotaTracker struct {
	client   redis.UniversalClient
	logger   logger.Logger
	failOpen bool
}

// NewQuotaTracker creates a Redis-backed quota tracker.
func NewQuotaTracker(client redis.UniversalClient, cfg *config.QuotaConfig, log logger.Logger) *QuotaTracker {
	failOpen := true
	if cfg != nil {
		failOpen = cfg.FailOpen
	}

	return &QuotaTracker{
		client:   client,
		logger:   log.WithComponent("quota_tracker"),
		failOpen: failOpen,
	}
}

// HasAvailableQuota reports whether the caller is within both ceilings. A
// missing configuration record yields a zero-limit default, which means the
// caller is unchecked and admitted. A ceiling of zero is likewise not
// enforced. On store failure the decision follows the failure policy.
func (qt *QuotaTracker) HasAvailableQuota(ctx context.Context, key string) *models.QuotaDecision {
	ctx, span := monitoring.StartSpan(ctx, "QuotaTracker.HasAvailableQuota",
		trace.WithAttributes(attribute.String("quota.key", key)))
	defer span.End()

	cfg, err := qt.loadConfig(ctx, key)
	if err != nil {
		if qt.failOpen {
			qt.logger.Warn(ctx, "Quota check failed, admitting (fail-open)",
				logger.String("key", key),
				logger.String("error", err.Error()),
			)
			return &models.QuotaDecision{HasQuota: true}
		}
		qt.logger.Error(ctx, "Quota check failed, denying (fail-closed)", err,
			logger.String("key", key))
		return &models.QuotaDecision{HasQuota: false, Reason: ReasonQuotaUnavailable}
	}

	decision := &models.QuotaDecision{
		HasQuota: true,
		Quota:    cfg.Info(),
	}

	switch {
	case cfg.DailyLimit > 0 && cfg.CurrentDailyUsage >= cfg.DailyLimit:
		decision.HasQuota = false
		decision.Reason = ReasonDailyQuotaExceeded
	case cfg.MonthlyLimit > 0 && cfg.CurrentMonthlyUsage >= cfg.MonthlyLimit:
		decision.HasQuota = false
		decision.Reason = ReasonMonthlyQuotaExceeded
	}

	span.SetAttributes(attribute.Bool("quota.has_quota", decision.HasQuota))
	return decision
}

// RecordUsage increments the caller's daily and monthly usage. Before
// incrementing it evaluates calendar rollover in UTC: a LastReset on an
// earlier calendar day resets the daily counter, an earlier calendar month the
// monthly counter, each independently. Store errors never surface; a failed
// increment means the request is not counted this time.
func (qt *QuotaTracker) RecordUsage(ctx context.Context, key string, userID string) {
	cfg, err := qt.loadConfig(ctx, key)
	if err != nil {
		qt.logger.Warn(ctx, "Usage not recorded, quota config unavailable",
			logger.String("key", key),
			logger.String("error", err.Error()),
		)
		return
	}

	now := time.Now().UTC()
	dailyKey := constants.QuotaDailyKeyPrefix + key
	monthlyKey := constants.QuotaMonthlyKeyPrefix + key

	if !sameCalendarDay(cfg.LastReset, now) {
		if err := qt.client.Del(ctx, dailyKey).Err(); err != nil {
			qt.logger.Warn(ctx, "Failed to roll over daily counter",
				logger.String("key", key),
				logger.String("error", err.Error()),
			)
			return
		}
		cfg.CurrentDailyUsage = 0
	}
	if !sameCalendarMonth(cfg.LastReset, now) {
		if err := qt.client.Del(ctx, monthlyKey).Err(); err != nil {
			qt.logger.Warn(ctx, "Failed to roll over monthly counter",
				logger.String("key", key),
				logger.String("error", err.Error()),
			)
			return
		}
		cfg.CurrentMonthlyUsage = 0
	}

	daily, err := qt.client.Incr(ctx, dailyKey).Result()
	if err != nil {
		qt.logger.Warn(ctx, "Failed to increment daily usage",
			logger.String("key", key),
			logger.String("error", err.Error()),
		)
		return
	}
	if daily == 1 {
		qt.client.Expire(ctx, dailyKey, constants.QuotaDailyCounterTTL)
	}

	monthly, err := qt.client.Incr(ctx, monthlyKey).Result()
	if err != nil {
		qt.logger.Warn(ctx, "Failed to increment monthly usage",
			logger.String("key", key),
			logger.String("error", err.Error()),
		)
		return
	}
	if monthly == 1 {
		qt.client.Expire(ctx, monthlyKey, constants.QuotaMonthlyCounterTTL)
	}

	cfg.CurrentDailyUsage = daily
	cfg.CurrentMonthlyUsage = monthly
	cfg.LastReset = now

	if err := qt.saveConfig(ctx, key, cfg); err != nil {
		qt.logger.Warn(ctx, "Failed to persist quota config after usage",
			logger.String("key", key),
			logger.String("user_id", userID),
			logger.String("error", err.Error()),
		)
	}
}

// GetQuotaInfo returns the caller's quota state, or nil when no configuration
// record exists or the stored value cannot be parsed.
func (qt *QuotaTracker) GetQuotaInfo(ctx context.Context, key string) *models.QuotaInfo {
	raw, err := qt.client.Get(ctx, constants.QuotaConfigKeyPrefix+key).Result()
	if err != nil {
		return nil
	}

	var cfg models.QuotaConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		qt.logger.Warn(ctx, "Unreadable quota config, treating as absent",
			logger.String("key", key))
		return nil
	}

	info := cfg.Info()
	return &info
}

// SetQuotaLimits validates and persists new ceilings for the caller. Usage
// counters of an existing configuration are preserved. Only validation errors
// are returned; a store failure is logged and swallowed.
func (qt *QuotaTracker) SetQuotaLimits(ctx context.Context, key string, dailyLimit, monthlyLimit int64) error {
	if err := ValidateQuotaLimits(dailyLimit, monthlyLimit); err != nil {
		return err
	}

	cfg, err := qt.loadConfig(ctx, key)
	if err != nil {
		qt.logger.Warn(ctx, "Could not load existing quota config, starting fresh",
			logger.String("key", key),
			logger.String("error", err.Error()),
		)
		cfg = &models.QuotaConfig{}
	}

	cfg.DailyLimit = dailyLimit
	cfg.MonthlyLimit = monthlyLimit
	if cfg.LastReset.IsZero() {
		cfg.LastReset = time.Now().UTC()
	}

	if err := qt.saveConfig(ctx, key, cfg); err != nil {
		qt.logger.Error(ctx, "Failed to persist quota limits", err,
			logger.String("key", key))
	}

	return nil
}

// ValidateQuotaLimits checks a limit pair. The checks run in a fixed order so
// the first violated one is reported deterministically.
func ValidateQuotaLimits(dailyLimit, monthlyLimit int64) error {
	if dailyLimit <= 0 {
		return errors.ErrInvalidRequest("Daily limit must be greater than 0")
	}
	if monthlyLimit <= 0 {
		return errors.ErrInvalidRequest("Monthly limit must be greater than 0")
	}
	if dailyLimit > monthlyLimit {
		return errors.ErrInvalidRequest("Daily limit cannot exceed monthly limit")
	}
	return nil
}

// ResetQuota deletes the caller's daily and monthly counters. Idempotent:
// deleting absent keys is not an error, and store failures are swallowed.
func (qt *QuotaTracker) ResetQuota(ctx context.Context, key string) {
	err := qt.client.Del(ctx,
		constants.QuotaDailyKeyPrefix+key,
		constants.QuotaMonthlyKeyPrefix+key,
	).Err()
	if err != nil && err != redis.Nil {
		qt.logger.Warn(ctx, "Failed to reset quota counters",
			logger.String("key", key),
			logger.String("error", err.Error()),
		)
	}
}

// GetQuotaUsageStats reports usage percentages for each key, one entry per
// input key in input order. Keys without a configuration yield zero
// percentages rather than being skipped.
func (qt *QuotaTracker) GetQuotaUsageStats(ctx context.Context, keys []string) []models.QuotaUsageStat {
	stats := make([]models.QuotaUsageStat, 0, len(keys))

	for _, key := range keys {
		stat := models.QuotaUsageStat{APIKeyID: key}

		if info := qt.GetQuotaInfo(ctx, key); info != nil {
			stat.DailyUsagePercent = usagePercent(info.DailyUsage, info.DailyLimit)
			stat.MonthlyUsagePercent = usagePercent(info.MonthlyUsage, info.MonthlyLimit)
		}

		stats = append(stats, stat)
	}

	return stats
}

// loadConfig fetches the caller's configuration record. Absence and
// corruption both yield the implicit zero-limit default; only store failures
// return an error.
func (qt *QuotaTracker) loadConfig(ctx context.Context, key string) (*models.QuotaConfig, error) {
	raw, err := qt.client.Get(ctx, constants.QuotaConfigKeyPrefix+key).Result()
	if err == redis.Nil {
		return &models.QuotaConfig{}, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg models.QuotaConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		qt.logger.Warn(ctx, "Unreadable quota config, using defaults",
			logger.String("key", key))
		return &models.QuotaConfig{}, nil
	}

	return &cfg, nil
}

func (qt *QuotaTracker) saveConfig(ctx context.Context, key string, cfg *models.QuotaConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return qt.client.Set(ctx, constants.QuotaConfigKeyPrefix+key, data, constants.QuotaConfigTTL).Err()
}

// sameCalendarDay compares only the date portions of two instants in UTC; a
// span across midnight counts as two days regardless of elapsed duration.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameCalendarMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

func usagePercent(usage, limit int64) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(usage) / float64(limit) * 100))
}
