package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/infrastructure/ratelimit"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

func newTestLimiter(t *testing.T) (*ratelimit.WindowLimiter, *miniredis.Miniredis) {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewWindowLimiter(client, &config.RateLimitConfig{Enabled: true, FailOpen: true}, logger.NewNoopLogger())
	return limiter, s
}

func TestWindowLimiter_AdmitsUntilLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 3}

	for i := int64(1); i <= 3; i++ {
		result, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(3), result.Limit)
		assert.Equal(t, 3-i, result.Remaining)
		assert.Equal(t, i, result.TotalRequests)
	}

	result, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.Equal(t, int64(3), result.TotalRequests)
	assert.WithinDuration(t, time.Now().Add(time.Minute), result.ResetTime, 5*time.Second)
}

func TestWindowLimiter_KeysDoNotContend(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 1}

	first, err := limiter.CheckRateLimit(ctx, "caller-a", cfg)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := limiter.CheckRateLimit(ctx, "caller-b", cfg)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
}

func TestWindowLimiter_WindowRollover(t *testing.T) {
	limiter, s := newTestLimiter(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 2}

	for i := 0; i < 2; i++ {
		result, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	denied, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	s.FastForward(time.Minute + time.Second)

	fresh, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
	assert.Equal(t, int64(1), fresh.TotalRequests)
}

func TestWindowLimiter_ZeroMaxRequestsAlwaysDenied(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 0}

	result, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.Equal(t, int64(0), result.TotalRequests)
}

func TestWindowLimiter_NonPositiveWindowKeepsNoState(t *testing.T) {
	limiter, s := newTestLimiter(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{Window: -time.Minute, MaxRequests: 2}

	for i := 0; i < 5; i++ {
		result, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(1), result.TotalRequests)
	}

	assert.False(t, s.Exists(constants.RateLimitKeyPrefix+"caller-1"))
}

func TestWindowLimiter_EmptyKeyIsValid(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 1}

	first, err := limiter.CheckRateLimit(ctx, "", cfg)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := limiter.CheckRateLimit(ctx, "", cfg)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}

func TestWindowLimiter_FailOpen(t *testing.T) {
	limiter, s := newTestLimiter(t)
	ctx := context.Background()

	s.Close()

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 42}

	result, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.Equal(t, int64(42), result.Limit)
	assert.Equal(t, time.Minute, result.Window)
}

func TestWindowLimiter_FailClosed(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewWindowLimiter(client, &config.RateLimitConfig{Enabled: true, FailOpen: false}, logger.NewNoopLogger())

	s.Close()

	result, err := limiter.CheckRateLimit(context.Background(), "caller-1", models.RateLimitConfig{Window: time.Minute, MaxRequests: 10})
	require.Error(t, err)
	assert.False(t, result.Allowed)
}

func TestWindowLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 1}

	_, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)

	denied, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	limiter.ResetRateLimit(ctx, "caller-1")

	fresh, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func TestWindowLimiter_ResetIsBestEffort(t *testing.T) {
	limiter, s := newTestLimiter(t)
	s.Close()

	// Must not panic or surface an error.
	limiter.ResetRateLimit(context.Background(), "caller-1")
}

func TestWindowLimiter_GetRateLimitInfo(t *testing.T) {
	limiter, s := newTestLimiter(t)
	ctx := context.Background()

	assert.Nil(t, limiter.GetRateLimitInfo(ctx, "caller-1"))

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: 10}
	for i := 0; i < 3; i++ {
		_, err := limiter.CheckRateLimit(ctx, "caller-1", cfg)
		require.NoError(t, err)
	}

	info := limiter.GetRateLimitInfo(ctx, "caller-1")
	require.NotNil(t, info)
	assert.Equal(t, int64(3), info.Count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), info.ResetTime, 5*time.Second)

	// A corrupt stored value reports "no info" rather than an error.
	require.NoError(t, s.Set(constants.RateLimitKeyPrefix+"caller-2", "not-a-number"))
	assert.Nil(t, limiter.GetRateLimitInfo(ctx, "caller-2"))
}

func TestWindowLimiter_ConcurrentChecksAdmitExactlyLimit(t *testing.T) {
	limiter, s := newTestLimiter(t)
	ctx := context.Background()

	const (
		concurrency = 50
		maxRequests = 10
	)

	cfg := models.RateLimitConfig{Window: time.Minute, MaxRequests: maxRequests}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.CheckRateLimit(ctx, "shared-caller", cfg)
			if err == nil && result.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxRequests, admitted)

	// The counter expires with the window; the next check starts a fresh one.
	s.FastForward(time.Minute + time.Second)
	result, err := limiter.CheckRateLimit(ctx, "shared-caller", cfg)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(1), result.TotalRequests)
}
