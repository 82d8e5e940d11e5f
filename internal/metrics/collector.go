// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/agent/guardrails"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 护栏执行指标收集器，实现 guardrails.MetricsRecorder
type Collector struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	failuresTotal *prometheus.CounterVec
	auditDBConns  *prometheus.GaugeVec
	registerer    prometheus.Registerer
	logger        *zap.Logger
}

var _ guardrails.MetricsRecorder = (*Collector)(nil)

// Option 收集器选项
type Option func(*Collector)

// WithRegisterer 指定注册表，默认 prometheus.DefaultRegisterer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Collector) {
		if reg != nil {
			c.registerer = reg
		}
	}
}

// NewCollector 创建指标收集器
// 同一注册表上重复创建相同 namespace 的收集器会 panic。
func NewCollector(namespace string, logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		registerer: prometheus.DefaultRegisterer,
		logger:     logger.With(zap.String("component", "metrics")),
	}
	for _, opt := range opts {
		opt(c)
	}
	factory := promauto.With(c.registerer)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_runs_total",
			Help:      "Total number of guardrail set executions",
		},
		[]string{"stage", "outcome"}, // outcome: passed, failed, aborted
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guardrail_run_duration_seconds",
			Help:      "Guardrail set execution duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"stage"},
	)

	c.checksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_checks_total",
			Help:      "Total number of individual guardrail validations",
		},
		[]string{"stage", "guardrail", "outcome"}, // outcome: pass, fail, transform
	)

	c.checkDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guardrail_check_duration_seconds",
			Help:      "Individual guardrail validation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 9),
		},
		[]string{"stage", "guardrail"},
	)

	c.failuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_failures_total",
			Help:      "Total number of guardrail failures by severity",
		},
		[]string{"stage", "guardrail", "severity"},
	)

	c.auditDBConns = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_db_connections",
			Help:      "Audit database connections by state",
		},
		[]string{"state"}, // state: open, in_use, idle
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordGuardrailRun 记录一次集合执行
func (c *Collector) RecordGuardrailRun(stage, outcome string, duration time.Duration) {
	c.runsTotal.WithLabelValues(stage, outcome).Inc()
	c.runDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordGuardrailCheck 记录单个护栏的一次校验
func (c *Collector) RecordGuardrailCheck(stage, guardrail, outcome string, duration time.Duration) {
	c.checksTotal.WithLabelValues(stage, guardrail, outcome).Inc()
	c.checkDuration.WithLabelValues(stage, guardrail).Observe(duration.Seconds())
}

// RecordGuardrailFailure 记录一次失败
func (c *Collector) RecordGuardrailFailure(stage, guardrail, severity string) {
	c.failuresTotal.WithLabelValues(stage, guardrail, severity).Inc()
}

// RecordAuditDBConnections 记录审计库连接池状态
func (c *Collector) RecordAuditDBConnections(open, inUse, idle int) {
	c.auditDBConns.WithLabelValues("open").Set(float64(open))
	c.auditDBConns.WithLabelValues("in_use").Set(float64(inUse))
	c.auditDBConns.WithLabelValues("idle").Set(float64(idle))
}
