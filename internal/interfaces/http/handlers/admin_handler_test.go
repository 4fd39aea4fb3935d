package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/infrastructure/audit"
	"github.com/propfolio/gatekeeper/internal/infrastructure/quota"
	"github.com/propfolio/gatekeeper/internal/infrastructure/ratelimit"
	"github.com/propfolio/gatekeeper/internal/interfaces/http/handlers"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

type adminEnv struct {
	engine  *gin.Engine
	tracker *quota.QuotaTracker
	limiter *ratelimit.WindowLimiter
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewNoopLogger()
	tracker := quota.NewQuotaTracker(client, &config.QuotaConfig{Enabled: true, FailOpen: true}, log)
	limiter := ratelimit.NewWindowLimiter(client, &config.RateLimitConfig{Enabled: true, FailOpen: true}, log)

	handler := handlers.NewAdminHandler(limiter, tracker, audit.NewNoopAuditService(), constants.QuotaTierFree, log)

	engine := gin.New()
	admin := engine.Group("/admin/v1")
	admin.GET("/quotas/:key", handler.GetQuota)
	admin.PUT("/quotas/:key", handler.SetQuota)
	admin.DELETE("/quotas/:key/usage", handler.ResetQuota)
	admin.POST("/quotas/usage-stats", handler.UsageStats)
	admin.GET("/rate-limits/:key", handler.GetRateLimit)
	admin.DELETE("/rate-limits/:key", handler.ResetRateLimit)

	return &adminEnv{engine: engine, tracker: tracker, limiter: limiter}
}

func (e *adminEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func TestAdminHandler_SetAndGetQuota(t *testing.T) {
	env := newAdminEnv(t)

	w := env.do(http.MethodPut, "/admin/v1/quotas/key-1", `{"dailyLimit":50,"monthlyLimit":500}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/admin/v1/quotas/key-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info models.QuotaInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, int64(50), info.DailyLimit)
	assert.Equal(t, int64(500), info.MonthlyLimit)
	assert.Equal(t, int64(50), info.DailyRemaining)
}

func TestAdminHandler_SetQuotaFromTier(t *testing.T) {
	env := newAdminEnv(t)

	w := env.do(http.MethodPut, "/admin/v1/quotas/key-1", `{"tier":"basic"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var info models.QuotaInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, int64(1_000), info.DailyLimit)
	assert.Equal(t, int64(30_000), info.MonthlyLimit)
}

func TestAdminHandler_SetQuotaFallsBackToDefaultTier(t *testing.T) {
	env := newAdminEnv(t)

	w := env.do(http.MethodPut, "/admin/v1/quotas/key-1", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	var info models.QuotaInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, int64(100), info.DailyLimit)
	assert.Equal(t, int64(3_000), info.MonthlyLimit)
}

func TestAdminHandler_SetQuotaRejectsInvalid(t *testing.T) {
	env := newAdminEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"zero daily", `{"dailyLimit":0,"monthlyLimit":100}`},
		{"daily above monthly", `{"dailyLimit":200,"monthlyLimit":100}`},
		{"unknown tier", `{"tier":"platinum"}`},
		{"malformed json", `{"dailyLimit":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(http.MethodPut, "/admin/v1/quotas/key-1", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "invalid_request", body["error"])
		})
	}
}

func TestAdminHandler_GetQuotaNotFound(t *testing.T) {
	env := newAdminEnv(t)

	w := env.do(http.MethodGet, "/admin/v1/quotas/absent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_ResetQuotaClearsCounters(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.SetQuotaLimits(ctx, "key-1", 10, 100))
	env.tracker.RecordUsage(ctx, "key-1", "user-1")

	w := env.do(http.MethodDelete, "/admin/v1/quotas/key-1/usage", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminHandler_UsageStats(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tracker.SetQuotaLimits(ctx, "key-a", 10, 100))
	for i := 0; i < 5; i++ {
		env.tracker.RecordUsage(ctx, "key-a", "")
	}

	w := env.do(http.MethodPost, "/admin/v1/quotas/usage-stats", `{"apiKeyIds":["key-a","key-b"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stats []models.QuotaUsageStat `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Stats, 2)
	assert.Equal(t, "key-a", body.Stats[0].APIKeyID)
	assert.Equal(t, 50, body.Stats[0].DailyUsagePercent)
	assert.Equal(t, "key-b", body.Stats[1].APIKeyID)
	assert.Equal(t, 0, body.Stats[1].DailyUsagePercent)
}

func TestAdminHandler_UsageStatsRequiresKeys(t *testing.T) {
	env := newAdminEnv(t)

	w := env.do(http.MethodPost, "/admin/v1/quotas/usage-stats", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_RateLimitInfoAndReset(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()

	w := env.do(http.MethodGet, "/admin/v1/rate-limits/key-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 10}
	for i := 0; i < 3; i++ {
		_, err := env.limiter.CheckRateLimit(ctx, "key-1", cfg)
		require.NoError(t, err)
	}

	w = env.do(http.MethodGet, "/admin/v1/rate-limits/key-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info models.RateLimitInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, int64(3), info.Count)

	w = env.do(http.MethodDelete, "/admin/v1/rate-limits/key-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "/admin/v1/rate-limits/key-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
