package models

import (
	"time"

	"github.com/propfolio/gatekeeper/pkg/constants"
)

// RateLimitConfig is the per-call-site policy for the window limiter. It is
// supplied by the enforcement point, not persisted.
type RateLimitConfig struct {
	// Window is the fixed window length.
	Window time.Duration `json:"window"`

	// MaxRequests is the admission ceiling per window. Zero means every
	// request is denied.
	MaxRequests int64 `json:"maxRequests"`

	// SkipSuccessfulRequests excludes 2xx responses from counting.
	SkipSuccessfulRequests bool `json:"skipSuccessfulRequests"`

	// SkipFailedRequests excludes 4xx/5xx responses from counting.
	SkipFailedRequests bool `json:"skipFailedRequests"`
}

// RateLimitResult is the decision metadata returned by a window-limiter check.
type RateLimitResult struct {
	// Allowed indicates if the request is admitted.
	Allowed bool `json:"allowed"`

	// Limit is the configured admission ceiling.
	Limit int64 `json:"limit"`

	// Remaining is the budget left in the current window.
	Remaining int64 `json:"remaining"`

	// Window is the configured window length.
	Window time.Duration `json:"window"`

	// ResetTime is the end of the current window.
	ResetTime time.Time `json:"resetTime"`

	// TotalRequests is the post-increment count observed by the check.
	TotalRequests int64 `json:"totalRequests"`
}

// RateLimitInfo is a point-in-time view of a caller's window counter.
type RateLimitInfo struct {
	// Count is the number of requests observed in the current window.
	Count int64 `json:"count"`

	// ResetTime is when the current window expires.
	ResetTime time.Time `json:"resetTime"`
}

// DefaultRateLimitConfigurations returns the fixed policy table for the
// standard call sites.
func DefaultRateLimitConfigurations() map[constants.RateLimitContext]RateLimitConfig {
	return map[constants.RateLimitContext]RateLimitConfig{
		constants.RateLimitContextAPI: {
			Window:      time.Minute,
			MaxRequests: 100,
		},
		constants.RateLimitContextAuth: {
			Window:      15 * time.Minute,
			MaxRequests: 5,
		},
		constants.RateLimitContextUpload: {
			Window:      time.Hour,
			MaxRequests: 10,
		},
		constants.RateLimitContextSearch: {
			Window:      time.Minute,
			MaxRequests: 1000,
		},
	}
}

// NewCustomRateLimitConfiguration merges the supplied overrides over the
// defaults. A zero MaxRequests falls back to the default ceiling and a zero
// Window to the default window; the skip flags pass through unchanged. No
// further validation is applied.
func NewCustomRateLimitConfiguration(overrides RateLimitConfig) RateLimitConfig {
	cfg := RateLimitConfig{
		Window:                 constants.DefaultRateLimitWindow,
		MaxRequests:            constants.DefaultMaxRequests,
		SkipSuccessfulRequests: false,
		SkipFailedRequests:     false,
	}

	if overrides.MaxRequests != 0 {
		cfg.MaxRequests = overrides.MaxRequests
	}
	if overrides.Window != 0 {
		cfg.Window = overrides.Window
	}
	cfg.SkipSuccessfulRequests = overrides.SkipSuccessfulRequests
	cfg.SkipFailedRequests = overrides.SkipFailedRequests

	return cfg
}
