package models

import (
	"time"

	"github.com/propfolio/gatekeeper/pkg/constants"
)

// QuotaConfig is the store-resident quota record for one caller. The JSON
// field names are part of the shared key namespace and must not change.
type QuotaConfig struct {
	// DailyLimit is the request ceiling per calendar day. Zero means the
	// daily ceiling is not enforced.
	DailyLimit int64 `json:"dailyLimit"`

	// MonthlyLimit is the request ceiling per calendar month. Zero means
	// the monthly ceiling is not enforced.
	MonthlyLimit int64 `json:"monthlyLimit"`

	// CurrentDailyUsage is the usage recorded in the current day.
	CurrentDailyUsage int64 `json:"currentDailyUsage"`

	// CurrentMonthlyUsage is the usage recorded in the current month.
	CurrentMonthlyUsage int64 `json:"currentMonthlyUsage"`

	// LastReset is when the rollover bookkeeping last ran.
	LastReset time.Time `json:"lastReset"`
}

// QuotaInfo is the read-model view of a caller's quota state.
type QuotaInfo struct {
	DailyLimit       int64     `json:"dailyLimit"`
	MonthlyLimit     int64     `json:"monthlyLimit"`
	DailyUsage       int64     `json:"dailyUsage"`
	MonthlyUsage     int64     `json:"monthlyUsage"`
	DailyRemaining   int64     `json:"dailyRemaining"`
	MonthlyRemaining int64     `json:"monthlyRemaining"`
	LastReset        time.Time `json:"lastReset"`
}

// QuotaDecision is the outcome of an availability check.
type QuotaDecision struct {
	// HasQuota indicates if the caller is within both ceilings.
	HasQuota bool `json:"hasQuota"`

	// Quota is the state the decision was made against.
	Quota QuotaInfo `json:"quota"`

	// Reason explains a denial. Empty when HasQuota is true.
	Reason string `json:"reason,omitempty"`
}

// QuotaUsageStat is one entry of a bulk usage report.
type QuotaUsageStat struct {
	APIKeyID            string `json:"apiKeyId"`
	DailyUsagePercent   int    `json:"dailyUsagePercent"`
	MonthlyUsagePercent int    `json:"monthlyUsagePercent"`
}

// TierLimits is the limit pair a quota tier maps to.
type TierLimits struct {
	DailyLimit   int64 `json:"dailyLimit"`
	MonthlyLimit int64 `json:"monthlyLimit"`
}

// DefaultQuotaLimits returns the fixed tier table.
func DefaultQuotaLimits() map[constants.QuotaTier]TierLimits {
	return map[constants.QuotaTier]TierLimits{
		constants.QuotaTierFree:       {DailyLimit: 100, MonthlyLimit: 3_000},
		constants.QuotaTierBasic:      {DailyLimit: 1_000, MonthlyLimit: 30_000},
		constants.QuotaTierPremium:    {DailyLimit: 5_000, MonthlyLimit: 150_000},
		constants.QuotaTierEnterprise: {DailyLimit: 10_000, MonthlyLimit: 300_000},
	}
}

// Info derives the read-model view from a stored config. Remaining budgets are
// clamped at zero.
func (c *QuotaConfig) Info() QuotaInfo {
	return QuotaInfo{
		DailyLimit:       c.DailyLimit,
		MonthlyLimit:     c.MonthlyLimit,
		DailyUsage:       c.CurrentDailyUsage,
		MonthlyUsage:     c.CurrentMonthlyUsage,
		DailyRemaining:   remaining(c.DailyLimit, c.CurrentDailyUsage),
		MonthlyRemaining: remaining(c.MonthlyLimit, c.CurrentMonthlyUsage),
		LastReset:        c.LastReset,
	}
}

func remaining(limit, usage int64) int64 {
	if r := limit - usage; r > 0 {
		return r
	}
	return 0
}
