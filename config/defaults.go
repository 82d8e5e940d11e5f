// =============================================================================
// 📦 guardflow 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/guardflow/internal/database"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Guardrails: DefaultGuardrailsConfig(),
		Redis:      DefaultRedisConfig(),
		Audit:      DefaultAuditConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultGuardrailsConfig 返回默认护栏配置（启用但不含任何护栏）
func DefaultGuardrailsConfig() GuardrailsConfig {
	return GuardrailsConfig{
		Enabled:        true,
		MaxConcurrency: 0,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultAuditConfig 返回默认审计配置
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:    false,
		Backend:    "memory",
		MemorySize: 1000,
		Retention:  30 * 24 * time.Hour,
		Database:   DefaultDatabaseConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:   "sqlite",
		Host:     "localhost",
		Port:     5432,
		User:     "guardflow",
		Password: "",
		Name:     "guardflow_audit.db",
		SSLMode:  "disable",
		Pool:     database.DefaultPoolConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "guardflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "guardflow",
	}
}
