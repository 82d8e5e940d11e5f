package guardrails

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/guardflow/types"
)

const tracerName = "github.com/BaSui01/guardflow/agent/guardrails"

// 执行结果标签
const (
	RunOutcomePassed  = "passed"
	RunOutcomeFailed  = "failed"
	RunOutcomeAborted = "aborted"
)

// MetricsRecorder 执行器指标记录接口，由 internal/metrics.Collector 实现
type MetricsRecorder interface {
	RecordGuardrailRun(stage, outcome string, duration time.Duration)
	RecordGuardrailCheck(stage, guardrail, outcome string, duration time.Duration)
	RecordGuardrailFailure(stage, guardrail, severity string)
}

// ExecutorOption 执行器选项
type ExecutorOption func(*Executor)

// WithStage 设置阶段名（input / output），用于日志、链路、指标与审计
func WithStage(stage string) ExecutorOption {
	return func(e *Executor) {
		if stage != "" {
			e.stage = stage
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer 设置链路追踪器，默认使用全局 TracerProvider
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics 设置指标记录器
func WithMetrics(metrics MetricsRecorder) ExecutorOption {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithAuditLogger 设置审计日志记录器
func WithAuditLogger(audit AuditLogger) ExecutorOption {
	return func(e *Executor) {
		e.audit = audit
	}
}

// WithMaxConcurrency 限制并发阶段同时执行的护栏数量，<=0 表示不限制
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxConcurrency = n
	}
}

// Executor 护栏执行器
// 先并发执行 RunParallel 护栏（共享同一快照，按注册顺序折叠结果），
// 再按注册顺序依次执行其余护栏（每个都看到此前所有改写）。
// 执行器只持有不可变的协作者，不保存任何执行期状态，可并发复用。
type Executor struct {
	stage          string
	logger         *zap.Logger
	tracer         trace.Tracer
	metrics        MetricsRecorder
	audit          AuditLogger
	maxConcurrency int
}

// NewExecutor 创建执行器
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		stage:  "default",
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(
		zap.String("component", "guardrail_executor"),
		zap.String("stage", e.stage),
	)
	return e
}

// Stage 返回阶段名
func (e *Executor) Stage() string {
	return e.stage
}

var defaultExecutor = NewExecutor()

// Run 使用默认执行器执行护栏集合
func Run(ctx context.Context, set *Set, content types.Content) (*ExecutionResult, error) {
	return defaultExecutor.Run(ctx, set, content)
}

// Run 对 content 执行 set 中的全部护栏。
// 返回聚合结果，或在 Critical 且 FailFast 的失败出现时返回 *AbortError；
// 中断时此前记录的失败全部丢弃。
func (e *Executor) Run(ctx context.Context, set *Set, content types.Content) (*ExecutionResult, error) {
	start := time.Now()

	if set.IsEmpty() {
		e.recordRun(RunOutcomePassed, start)
		return &ExecutionResult{Passed: true, Failures: []Failure{}}, nil
	}

	runID, ok := types.RunID(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = types.WithRunID(ctx, runID)
	}

	ctx, span := e.tracer.Start(ctx, "guardrails.run", trace.WithAttributes(
		attribute.String("guardrail.stage", e.stage),
		attribute.String("guardrail.run_id", runID),
		attribute.Int("guardrail.count", set.Len()),
	))
	defer span.End()

	state := &runState{
		exec:     e,
		runID:    runID,
		current:  content.Clone(),
		failures: []Failure{},
	}

	concurrent, sequential := set.partition()

	if len(concurrent) > 0 {
		results := e.runConcurrent(ctx, concurrent, state.current)
		for i, g := range concurrent {
			if abort := state.apply(g, results[i]); abort != nil {
				return nil, e.abort(ctx, span, state, content, abort, start)
			}
		}
	}

	for _, g := range sequential {
		res := e.validate(ctx, g, state.current)
		if abort := state.apply(g, res); abort != nil {
			return nil, e.abort(ctx, span, state, content, abort, start)
		}
	}

	result := &ExecutionResult{
		Passed:     passedUnder(state.failures),
		Failures:   state.failures,
		Transforms: state.transforms,
	}
	if !state.current.Equal(content) {
		transformed := state.current
		result.TransformedContent = &transformed
	}

	outcome := RunOutcomePassed
	if !result.Passed {
		outcome = RunOutcomeFailed
	}
	span.SetAttributes(
		attribute.String("guardrail.outcome", outcome),
		attribute.Int("guardrail.failures", len(result.Failures)),
		attribute.Bool("guardrail.transformed", result.TransformedContent != nil),
	)
	e.recordRun(outcome, start)
	e.auditRun(ctx, state, content)

	e.logger.Debug("guardrails completed",
		zap.String("run_id", runID),
		zap.Bool("passed", result.Passed),
		zap.Int("failures", len(result.Failures)),
		zap.Bool("transformed", result.TransformedContent != nil),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// runConcurrent 扇出执行并发组并等待全部完成。
// 已派发的任务不会因为兄弟任务的结果被取消，结果按下标（注册顺序）返回。
func (e *Executor) runConcurrent(ctx context.Context, group []Guardrail, snapshot types.Content) []Result {
	results := make([]Result, len(group))

	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i, gr := range group {
		i, gr := i, gr
		g.Go(func() error {
			results[i] = e.validate(ctx, gr, snapshot)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// validate 执行单个护栏，panic 被转换为 Critical 失败
func (e *Executor) validate(ctx context.Context, g Guardrail, content types.Content) (res Result) {
	name := g.Name()
	ctx, span := e.tracer.Start(ctx, "guardrail.validate", trace.WithAttributes(
		attribute.String("guardrail.name", name),
		attribute.Bool("guardrail.parallel", g.RunParallel()),
	))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("guardrail panicked",
				zap.String("guardrail", name),
				zap.Any("panic", r),
			)
			res = Fail(fmt.Sprintf("guardrail panicked: %v", r), SeverityCritical)
		}

		span.SetAttributes(attribute.String("guardrail.outcome", res.Outcome.String()))
		if res.IsFail() {
			span.SetAttributes(attribute.String("guardrail.severity", res.Severity.String()))
			span.SetStatus(codes.Error, res.Reason)
		}
		span.End()

		if e.metrics != nil {
			e.metrics.RecordGuardrailCheck(e.stage, name, res.Outcome.String(), time.Since(start))
		}
	}()

	return g.Validate(ctx, content)
}

func (e *Executor) abort(ctx context.Context, span trace.Span, state *runState, original types.Content, abort *AbortError, start time.Time) error {
	span.SetAttributes(
		attribute.String("guardrail.outcome", RunOutcomeAborted),
		attribute.String("guardrail.aborted_by", abort.Name),
	)
	span.SetStatus(codes.Error, abort.Error())
	e.recordRun(RunOutcomeAborted, start)

	e.logger.Warn("guardrails aborted",
		zap.String("run_id", state.runID),
		zap.String("guardrail", abort.Name),
		zap.String("reason", abort.Reason),
		zap.String("severity", abort.Severity.String()),
	)

	if e.audit != nil {
		entry := e.newAuditEntry(ctx, state.runID, AuditEventRunAborted, abort.Name, abort.Reason, original)
		entry.Severity = abort.Severity
		e.writeAudit(ctx, entry)
	}
	return abort
}

func (e *Executor) recordRun(outcome string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordGuardrailRun(e.stage, outcome, time.Since(start))
	}
}

func (e *Executor) auditRun(ctx context.Context, state *runState, original types.Content) {
	if e.audit == nil {
		return
	}
	for _, f := range state.failures {
		entry := e.newAuditEntry(ctx, state.runID, AuditEventGuardrailFailed, f.Name, f.Reason, original)
		entry.Severity = f.Severity
		e.writeAudit(ctx, entry)
	}
	for _, t := range state.transforms {
		e.writeAudit(ctx, e.newAuditEntry(ctx, state.runID, AuditEventContentTransformed, t.Name, t.Reason, original))
	}
}

func (e *Executor) newAuditEntry(ctx context.Context, runID string, event AuditEventType, name, reason string, original types.Content) *AuditLogEntry {
	entry := &AuditLogEntry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		RunID:         runID,
		Stage:         e.stage,
		EventType:     event,
		GuardrailName: name,
		Reason:        reason,
		ContentHash:   HashContent(original.Text()),
	}
	if tenant, ok := types.TenantID(ctx); ok {
		entry.TenantID = tenant
	}
	if user, ok := types.UserID(ctx); ok {
		entry.UserID = user
	}
	return entry
}

// writeAudit 审计写入失败只记日志，不影响执行结果
func (e *Executor) writeAudit(ctx context.Context, entry *AuditLogEntry) {
	if err := e.audit.Log(ctx, entry); err != nil {
		e.logger.Warn("failed to write guardrail audit entry",
			zap.String("run_id", entry.RunID),
			zap.String("event", string(entry.EventType)),
			zap.Error(err),
		)
	}
}

// runState 单次执行的可变状态，只在调用 Run 的 goroutine 中使用
type runState struct {
	exec       *Executor
	runID      string
	current    types.Content
	failures   []Failure
	transforms []Transformation
}

// apply 折叠一个护栏结果；需要中断时返回 *AbortError
func (s *runState) apply(g Guardrail, res Result) *AbortError {
	name := g.Name()

	switch res.Outcome {
	case OutcomeFail:
		s.failures = append(s.failures, Failure{Name: name, Reason: res.Reason, Severity: res.Severity})
		if s.exec.metrics != nil {
			s.exec.metrics.RecordGuardrailFailure(s.exec.stage, name, res.Severity.String())
		}
		if res.Severity == SeverityCritical && g.FailFast() {
			return &AbortError{Name: name, Reason: res.Reason, Severity: res.Severity}
		}
		s.exec.logger.Info("guardrail failed",
			zap.String("run_id", s.runID),
			zap.String("guardrail", name),
			zap.String("reason", res.Reason),
			zap.String("severity", res.Severity.String()),
		)

	case OutcomeTransform:
		s.current = res.Content
		s.transforms = append(s.transforms, Transformation{Name: name, Reason: res.Reason})
		s.exec.logger.Debug("content transformed",
			zap.String("run_id", s.runID),
			zap.String("guardrail", name),
			zap.String("reason", res.Reason),
		)
	}
	return nil
}
