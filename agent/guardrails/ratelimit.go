package guardrails

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/guardflow/types"
)

// KeyFunc 计算限流维度的键
type KeyFunc func(ctx context.Context, content types.Content) string

// KeyByTenantUser 按 租户:用户 限流，上下文中缺失时使用 "global"
func KeyByTenantUser(ctx context.Context, _ types.Content) string {
	tenant, _ := types.TenantID(ctx)
	user, _ := types.UserID(ctx)
	if tenant == "" && user == "" {
		return "global"
	}
	return tenant + ":" + user
}

// RateLimitConfig 限流护栏配置
type RateLimitConfig struct {
	// Name 护栏名称，默认 rate_limit
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// RequestsPerSecond 每秒允许的请求数（本地令牌桶）
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	// Burst 令牌桶容量
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`
	// Limit 每个窗口允许的请求数（Redis 固定窗口）
	Limit int64 `json:"limit,omitempty" yaml:"limit,omitempty"`
	// Window 固定窗口长度
	Window time.Duration `json:"window,omitempty" yaml:"window,omitempty"`
	// KeyPrefix Redis 键前缀
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	// Severity 超限时的失败级别，默认 High
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	// IdleTTL 本地限流器闲置多久后回收
	IdleTTL time.Duration `json:"idle_ttl,omitempty" yaml:"idle_ttl,omitempty"`
}

func (c *RateLimitConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "rate_limit"
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "guardflow:ratelimit"
	}
	if c.Severity == 0 {
		c.Severity = SeverityHigh
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 3 * time.Minute
	}
}

// =============================================================================
// 本地令牌桶
// =============================================================================

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 进程内令牌桶限流护栏，每个键一个桶。
// 桶表由互斥锁保护，可被并发执行的多次 Run 共享。
type RateLimiter struct {
	name     string
	rps      float64
	burst    int
	severity Severity
	idleTTL  time.Duration
	keyFunc  KeyFunc

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter 创建本地限流护栏，keyFunc 为空时使用 KeyByTenantUser
func NewRateLimiter(config RateLimitConfig, keyFunc KeyFunc) (*RateLimiter, error) {
	config.applyDefaults()
	if config.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("%w: rate limiter %q requires requests_per_second > 0", ErrInvalidConfig, config.Name)
	}
	if !config.Severity.Valid() {
		return nil, fmt.Errorf("%w: rate limiter %q has invalid severity", ErrInvalidConfig, config.Name)
	}
	if keyFunc == nil {
		keyFunc = KeyByTenantUser
	}
	return &RateLimiter{
		name:     config.Name,
		rps:      config.RequestsPerSecond,
		burst:    config.Burst,
		severity: config.Severity,
		idleTTL:  config.IdleTTL,
		keyFunc:  keyFunc,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}, nil
}

// Name 返回护栏名称
func (l *RateLimiter) Name() string { return l.name }

// RunParallel 实现 Guardrail
func (l *RateLimiter) RunParallel() bool { return true }

// FailFast 实现 Guardrail
func (l *RateLimiter) FailFast() bool { return true }

// Validate 消耗一个令牌，桶空时失败
func (l *RateLimiter) Validate(ctx context.Context, content types.Content) Result {
	key := l.keyFunc(ctx, content)
	if l.limiterFor(key).Allow() {
		return Pass()
	}
	return Fail(fmt.Sprintf("Rate limit exceeded for %q (%.2f req/s, burst %d)", key, l.rps, l.burst), l.severity)
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// =============================================================================
// Redis 固定窗口
// =============================================================================

// RedisRateLimiter 基于 Redis INCR/EXPIRE 的分布式固定窗口限流护栏。
// Redis 不可用时按失败处理（fail closed）。
type RedisRateLimiter struct {
	name      string
	client    redis.Cmdable
	limit     int64
	window    time.Duration
	keyPrefix string
	severity  Severity
	keyFunc   KeyFunc
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisRateLimiter 创建分布式限流护栏
func NewRedisRateLimiter(client redis.Cmdable, config RateLimitConfig, keyFunc KeyFunc, logger *zap.Logger) (*RedisRateLimiter, error) {
	config.applyDefaults()
	if config.Name == "rate_limit" {
		config.Name = "redis_rate_limit"
	}
	if client == nil {
		return nil, fmt.Errorf("%w: redis rate limiter %q requires a redis client", ErrInvalidConfig, config.Name)
	}
	if config.Limit <= 0 {
		return nil, fmt.Errorf("%w: redis rate limiter %q requires limit > 0", ErrInvalidConfig, config.Name)
	}
	if !config.Severity.Valid() {
		return nil, fmt.Errorf("%w: redis rate limiter %q has invalid severity", ErrInvalidConfig, config.Name)
	}
	if keyFunc == nil {
		keyFunc = KeyByTenantUser
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRateLimiter{
		name:      config.Name,
		client:    client,
		limit:     config.Limit,
		window:    config.Window,
		keyPrefix: config.KeyPrefix,
		severity:  config.Severity,
		keyFunc:   keyFunc,
		logger:    logger.With(zap.String("component", "redis_rate_limiter")),
		now:       time.Now,
	}, nil
}

// Name 返回护栏名称
func (l *RedisRateLimiter) Name() string { return l.name }

// RunParallel 实现 Guardrail
func (l *RedisRateLimiter) RunParallel() bool { return true }

// FailFast 实现 Guardrail
func (l *RedisRateLimiter) FailFast() bool { return true }

// Validate 对当前窗口计数加一，超出上限时失败
func (l *RedisRateLimiter) Validate(ctx context.Context, content types.Content) Result {
	key := l.keyFunc(ctx, content)
	windowStart := l.now().Truncate(l.window).Unix()
	redisKey := fmt.Sprintf("%s:%s:%d", l.keyPrefix, key, windowStart)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn("rate limit counter unavailable", zap.String("key", redisKey), zap.Error(err))
		return Fail(fmt.Sprintf("Rate limit check unavailable: %v", err), l.severity)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			l.logger.Warn("failed to set rate limit window expiry", zap.String("key", redisKey), zap.Error(err))
		}
	}

	if count > l.limit {
		return Fail(fmt.Sprintf("Rate limit exceeded for %q (%d/%d per %s)", key, count, l.limit, l.window), l.severity)
	}
	return Pass()
}
