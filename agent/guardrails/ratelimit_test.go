package guardrails

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/types"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRateLimiter_TokenBucket(t *testing.T) {
	l, err := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "rate_limit", l.Name())

	ctx := types.WithUserID(context.Background(), "alice")
	assert.True(t, l.Validate(ctx, userText("1")).IsPass())
	assert.True(t, l.Validate(ctx, userText("2")).IsPass())

	res := l.Validate(ctx, userText("3"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityHigh, res.Severity)
	assert.Contains(t, res.Reason, `":alice"`)

	// 不同用户使用独立的桶
	other := types.WithUserID(context.Background(), "bob")
	assert.True(t, l.Validate(other, userText("1")).IsPass())
}

func TestRateLimiter_EvictsIdleVisitors(t *testing.T) {
	l, err := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute}, nil)
	require.NoError(t, err)

	now := time.Now()
	l.now = func() time.Time { return now }
	l.Validate(types.WithUserID(context.Background(), "a"), userText("x"))
	l.Validate(types.WithUserID(context.Background(), "b"), userText("x"))
	assert.Len(t, l.visitors, 2)

	now = now.Add(2 * time.Minute)
	l.Validate(types.WithUserID(context.Background(), "c"), userText("x"))
	assert.Len(t, l.visitors, 1)
}

func TestRateLimiter_InvalidConfig(t *testing.T) {
	_, err := NewRateLimiter(RateLimitConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKeyByTenantUser(t *testing.T) {
	assert.Equal(t, "global", KeyByTenantUser(context.Background(), types.Content{}))

	ctx := types.WithTenantID(types.WithUserID(context.Background(), "u1"), "t1")
	assert.Equal(t, "t1:u1", KeyByTenantUser(ctx, types.Content{}))
}

func TestRedisRateLimiter_FixedWindow(t *testing.T) {
	mr, client := setupTestRedis(t)

	l, err := NewRedisRateLimiter(client, RateLimitConfig{Limit: 2, Window: time.Minute}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "redis_rate_limit", l.Name())

	fixed := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := types.WithTenantID(context.Background(), "acme")
	assert.True(t, l.Validate(ctx, userText("1")).IsPass())
	assert.True(t, l.Validate(ctx, userText("2")).IsPass())

	res := l.Validate(ctx, userText("3"))
	require.True(t, res.IsFail())
	assert.Contains(t, res.Reason, "3/2 per 1m0s")

	key := "guardflow:ratelimit:acme::" + "1767268800"
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "3", val)
	assert.True(t, mr.TTL(key) > 0)

	// 新窗口重新计数
	l.now = func() time.Time { return fixed.Add(time.Minute) }
	assert.True(t, l.Validate(ctx, userText("4")).IsPass())
}

func TestRedisRateLimiter_FailsClosed(t *testing.T) {
	mr, client := setupTestRedis(t)

	l, err := NewRedisRateLimiter(client, RateLimitConfig{Limit: 10, Severity: SeverityCritical}, nil, nil)
	require.NoError(t, err)

	mr.Close()
	res := l.Validate(context.Background(), userText("x"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityCritical, res.Severity)
	assert.Contains(t, res.Reason, "Rate limit check unavailable")
}

func TestRedisRateLimiter_InvalidConfig(t *testing.T) {
	_, err := NewRedisRateLimiter(nil, RateLimitConfig{Limit: 1}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, client := setupTestRedis(t)
	_, err = NewRedisRateLimiter(client, RateLimitConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
