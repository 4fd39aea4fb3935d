package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/propfolio/gatekeeper/pkg/constants"
)

// Metrics manages the Prometheus metrics of the admission layer.
type Metrics struct {
	RateLimitChecks  *prometheus.CounterVec
	RateLimitLatency *prometheus.HistogramVec
	QuotaChecks      *prometheus.CounterVec
	QuotaDenials     *prometheus.CounterVec
	StoreFailures    *prometheus.CounterVec
}

// NewMetrics creates the Prometheus metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh registry
// so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limit_checks_total",
				Help: "Total number of window-limiter checks.",
			},
			[]string{"context", "result"},
		),
		RateLimitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_rate_limit_check_latency_seconds",
				Help:    "Latency of window-limiter checks against the store.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"context"},
		),
		QuotaChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_quota_checks_total",
				Help: "Total number of quota availability checks.",
			},
			[]string{"result"},
		),
		QuotaDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_quota_denials_total",
				Help: "Total number of quota denials by period.",
			},
			[]string{"period"},
		),
		StoreFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_failures_total",
				Help: "Total number of key-value store failures absorbed by the failure policy.",
			},
			[]string{"operation"},
		),
	}
}

// RecordRateLimitCheck records a window-limiter decision and its latency.
func (m *Metrics) RecordRateLimitCheck(rlContext constants.RateLimitContext, allowed bool, duration time.Duration) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.RateLimitChecks.WithLabelValues(string(rlContext), result).Inc()
	m.RateLimitLatency.WithLabelValues(string(rlContext)).Observe(duration.Seconds())
}

// RecordQuotaCheck records a quota decision.
func (m *Metrics) RecordQuotaCheck(hasQuota bool, period string) {
	result := "allowed"
	if !hasQuota {
		result = "denied"
		m.QuotaDenials.WithLabelValues(period).Inc()
	}
	m.QuotaChecks.WithLabelValues(result).Inc()
}

// RecordStoreFailure records a store failure swallowed by the failure policy.
func (m *Metrics) RecordStoreFailure(operation string) {
	m.StoreFailures.WithLabelValues(operation).Inc()
}
