package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/agent"
	"github.com/BaSui01/guardflow/agent/guardrails"
	"github.com/BaSui01/guardflow/agent/guardrails/auditstore"
	"github.com/BaSui01/guardflow/config"
	"github.com/BaSui01/guardflow/internal/database"
	"github.com/BaSui01/guardflow/internal/metrics"
	"github.com/BaSui01/guardflow/internal/telemetry"
	"github.com/BaSui01/guardflow/internal/tlsutil"
)

const redisPingTimeout = 3 * time.Second

// appRuntime 一次命令执行所需的全部依赖，按 Close 逆序释放
type appRuntime struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	redis     *redis.Client
	pool      *database.PoolManager
	store     *auditstore.GormAuditLogger
	audit     guardrails.AuditLogger

	registry  *prometheus.Registry
	collector *metrics.Collector

	coordinator *agent.GuardrailsCoordinator
}

// newAppRuntime 按配置初始化遥测、Redis、审计存储、指标与护栏协调器
func newAppRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *appRuntime, err error) {
	rt := &appRuntime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		rt.telemetry, err = nil, nil
	}

	if cfg.Redis.Addr != "" {
		rt.redis = newRedisClient(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err = rt.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Audit.Enabled {
		if err = rt.openAudit(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		rt.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger, metrics.WithRegisterer(rt.registry))
	}

	opts := []guardrails.ExecutorOption{guardrails.WithTracer(rt.telemetry.Tracer("github.com/BaSui01/guardflow"))}
	if rt.audit != nil {
		opts = append(opts, guardrails.WithAuditLogger(rt.audit))
	}
	if rt.collector != nil {
		opts = append(opts, guardrails.WithMetrics(rt.collector))
	}

	deps := guardrails.Dependencies{Logger: logger}
	if rt.redis != nil {
		deps.Redis = rt.redis
	}

	rt.coordinator, err = agent.NewGuardrailsCoordinatorFromConfig(cfg.Guardrails, deps, logger, opts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(cfg.Addr, cfg.TLSServerName)
	}
	return redis.NewClient(opts)
}

// openAudit 打开审计后端；database 后端会自动建表
func (rt *appRuntime) openAudit(ctx context.Context) error {
	audit := rt.cfg.Audit
	switch audit.Backend {
	case "memory":
		rt.audit = guardrails.NewMemoryAuditLogger(audit.MemorySize)
		return nil
	case "database":
		pool, err := database.Open(audit.Database.Driver, audit.Database.DSN(), audit.Database.Pool, rt.logger)
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		rt.pool = pool
		rt.store = auditstore.New(pool.DB(), rt.logger)
		if err := rt.store.AutoMigrate(ctx); err != nil {
			return err
		}
		rt.audit = rt.store
		return nil
	default:
		return fmt.Errorf("invalid audit backend %q", audit.Backend)
	}
}

// writeMetrics 把本次执行的指标写成 Prometheus 文本文件
func (rt *appRuntime) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if rt.registry == nil {
		rt.logger.Warn("metrics disabled, skipping metrics file", zap.String("path", path))
		return nil
	}
	if rt.pool != nil {
		stats := rt.pool.Stats()
		rt.collector.RecordAuditDBConnections(stats.OpenConnections, stats.InUse, stats.Idle)
	}
	if err := prometheus.WriteToTextfile(path, rt.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}

// Close 释放资源，返回所有关闭错误
func (rt *appRuntime) Close(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.pool != nil {
		if err := rt.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit database: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
