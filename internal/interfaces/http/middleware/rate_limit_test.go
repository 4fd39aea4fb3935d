package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/infrastructure/audit"
	"github.com/propfolio/gatekeeper/internal/infrastructure/monitoring"
	"github.com/propfolio/gatekeeper/internal/infrastructure/quota"
	"github.com/propfolio/gatekeeper/internal/infrastructure/ratelimit"
	"github.com/propfolio/gatekeeper/internal/interfaces/http/middleware"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

type testEnv struct {
	store   *miniredis.Miniredis
	client  *goredis.Client
	limiter *ratelimit.WindowLimiter
	tracker *quota.QuotaTracker
	metrics *monitoring.Metrics
	log     logger.Logger
}

func newTestEnv(t *testing.T, failOpen bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewNoopLogger()
	return &testEnv{
		store:   s,
		client:  client,
		limiter: ratelimit.NewWindowLimiter(client, &config.RateLimitConfig{Enabled: true, FailOpen: failOpen}, log),
		tracker: quota.NewQuotaTracker(client, &config.QuotaConfig{Enabled: true, FailOpen: failOpen}, log),
		metrics: monitoring.NewMetrics(prometheus.NewRegistry()),
		log:     log,
	}
}

func (e *testEnv) rateLimitedEngine(cfg models.RateLimitConfig) *gin.Engine {
	engine := gin.New()
	engine.GET("/guarded",
		middleware.RateLimit(e.limiter, audit.NewNoopAuditService(), e.metrics, e.log, constants.RateLimitContextAPI, cfg),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)
	return engine
}

func doRequest(engine *gin.Engine, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if apiKey != "" {
		req.Header.Set(constants.HeaderAPIKey, apiKey)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_SetsHeadersAndDenies(t *testing.T) {
	env := newTestEnv(t, true)
	engine := env.rateLimitedEngine(models.RateLimitConfig{Window: time.Minute, MaxRequests: 2})

	w := doRequest(engine, "caller-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get(constants.HeaderRateLimitLimit))
	assert.Equal(t, "1", w.Header().Get(constants.HeaderRateLimitRemaining))
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRateLimitReset))

	w = doRequest(engine, "caller-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get(constants.HeaderRateLimitRemaining))

	w = doRequest(engine, "caller-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(constants.HeaderRateLimitRemaining))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
}

func TestRateLimitMiddleware_DistinctCallers(t *testing.T) {
	env := newTestEnv(t, true)
	engine := env.rateLimitedEngine(models.RateLimitConfig{Window: time.Minute, MaxRequests: 1})

	assert.Equal(t, http.StatusOK, doRequest(engine, "caller-a").Code)
	assert.Equal(t, http.StatusOK, doRequest(engine, "caller-b").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(engine, "caller-a").Code)
}

func TestRateLimitMiddleware_FailOpenAdmits(t *testing.T) {
	env := newTestEnv(t, true)
	engine := env.rateLimitedEngine(models.RateLimitConfig{Window: time.Minute, MaxRequests: 1})

	env.store.Close()

	w := doRequest(engine, "caller-1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_FailClosedRejects(t *testing.T) {
	env := newTestEnv(t, false)
	engine := env.rateLimitedEngine(models.RateLimitConfig{Window: time.Minute, MaxRequests: 1})

	env.store.Close()

	w := doRequest(engine, "caller-1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "store_unavailable", body["error"])
}

func TestQuotaMiddleware_RecordsUsageForAdmitted(t *testing.T) {
	env := newTestEnv(t, true)
	require.NoError(t, env.tracker.SetQuotaLimits(context.Background(), "caller-1", 10, 100))

	engine := gin.New()
	engine.GET("/guarded",
		middleware.Quota(env.tracker, audit.NewNoopAuditService(), env.metrics, env.log),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)

	w := doRequest(engine, "caller-1")
	assert.Equal(t, http.StatusOK, w.Code)

	info := env.tracker.GetQuotaInfo(context.Background(), "caller-1")
	require.NotNil(t, info)
	assert.Equal(t, int64(1), info.DailyUsage)
}

func TestQuotaMiddleware_DeniesWithoutRecording(t *testing.T) {
	env := newTestEnv(t, true)
	require.NoError(t, env.tracker.SetQuotaLimits(context.Background(), "caller-1", 1, 100))

	engine := gin.New()
	engine.GET("/guarded",
		middleware.Quota(env.tracker, audit.NewNoopAuditService(), env.metrics, env.log),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)

	assert.Equal(t, http.StatusOK, doRequest(engine, "caller-1").Code)

	w := doRequest(engine, "caller-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "quota_exceeded", body["error"])

	// The denied request must not consume quota.
	info := env.tracker.GetQuotaInfo(context.Background(), "caller-1")
	require.NotNil(t, info)
	assert.Equal(t, int64(1), info.DailyUsage)
}

func TestCallerKey_FallsBackToClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()

	var captured string
	engine.GET("/k", func(c *gin.Context) {
		captured = middleware.CallerKey(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/k", nil)
	req.RemoteAddr = "192.0.2.7:4711"
	engine.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.7", captured)
}
