package main

import (
	"context"
	"crypto/tls"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/agent/guardrails"
	"github.com/BaSui01/guardflow/config"
	"github.com/BaSui01/guardflow/types"
)

func TestNewAppRuntime_RedisRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Guardrails.Input = []guardrails.Spec{
		{Type: guardrails.TypeRedisRateLimit, Limit: 1, Window: time.Hour},
	}

	rt, err := newAppRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close(context.Background())) }()

	ctx := types.WithUserID(context.Background(), "u1")
	_, result, err := rt.coordinator.CheckInput(ctx, types.NewTextContent(types.RoleUser, "hi"))
	require.NoError(t, err)
	assert.True(t, result.Passed)

	_, result, err = rt.coordinator.CheckInput(ctx, types.NewTextContent(types.RoleUser, "hi again"))
	require.Error(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "redis_rate_limit", result.Failures[0].Name)
	assert.Equal(t, guardrails.SeverityHigh, result.Failures[0].Severity)
}

func TestNewAppRuntime_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultConfig()
	cfg.Redis.Addr = addr

	_, err := newAppRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestNewAppRuntime_MemoryAuditAndMetrics(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.Namespace = "rt"
	cfg.Guardrails.Output = []guardrails.Spec{{Type: guardrails.TypeMaxLength, MaxLength: 2}}

	rt, err := newAppRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer rt.Close(context.Background())

	_, _, err = rt.coordinator.CheckOutput(context.Background(), types.NewTextContent(types.RoleModel, "long"))
	require.Error(t, err)

	n, err := rt.audit.Count(context.Background(), &guardrails.AuditLogFilter{Stages: []string{"output"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, rt.writeMetrics(path))
	assert.FileExists(t, path)
}

func TestNewAppRuntime_DatabaseAudit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.Backend = "database"
	cfg.Audit.Database.Name = filepath.Join(t.TempDir(), "audit.db")

	rt, err := newAppRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, rt.store)
	require.NotNil(t, rt.pool)
	require.NoError(t, rt.pool.Ping(context.Background()))
	require.NoError(t, rt.Close(context.Background()))
	assert.Error(t, rt.pool.Ping(context.Background()))
}

func TestNewRedisClient_TLS(t *testing.T) {
	client := newRedisClient(config.RedisConfig{Addr: "cache.internal:6380", TLS: true})
	defer client.Close()

	opts := client.Options()
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "cache.internal", opts.TLSConfig.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)

	plain := newRedisClient(config.RedisConfig{Addr: "localhost:6379"})
	defer plain.Close()
	assert.Nil(t, plain.Options().TLSConfig)
}
