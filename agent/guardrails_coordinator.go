// 包 agent 提供护栏流水线与模型调用之间的集成点。
// 本文件实现 GuardrailsCoordinator：模型调用前校验输入，模型返回后校验输出。
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/agent/guardrails"
	"github.com/BaSui01/guardflow/config"
	"github.com/BaSui01/guardflow/types"
)

// 护栏阶段名
const (
	StageInput  = "input"
	StageOutput = "output"
)

// GuardrailsCoordinator 协调输入/输出两个阶段的护栏执行。
// 两个集合都是只增不减的；AddInputGuardrail/AddOutputGuardrail 以复制扩展的方式替换，
// 正在进行的检查继续使用旧集合。
type GuardrailsCoordinator struct {
	mu     sync.RWMutex
	input  *guardrails.Set
	output *guardrails.Set

	inputExec  *guardrails.Executor
	outputExec *guardrails.Executor

	enabled atomic.Bool
	logger  *zap.Logger
}

// NewGuardrailsCoordinator 创建协调器，opts 同时作用于两个阶段的执行器
func NewGuardrailsCoordinator(input, output *guardrails.Set, logger *zap.Logger, opts ...guardrails.ExecutorOption) *GuardrailsCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if input == nil {
		input = guardrails.NewSet()
	}
	if output == nil {
		output = guardrails.NewSet()
	}

	gc := &GuardrailsCoordinator{
		input:      input,
		output:     output,
		inputExec:  newStageExecutor(StageInput, logger, opts),
		outputExec: newStageExecutor(StageOutput, logger, opts),
		logger:     logger.With(zap.String("component", "guardrails_coordinator")),
	}
	gc.enabled.Store(true)

	gc.logger.Info("guardrails initialized",
		zap.Strings("input", input.Names()),
		zap.Strings("output", output.Names()),
	)
	return gc
}

// NewGuardrailsCoordinatorFromConfig 根据配置构建两个阶段的护栏集合
func NewGuardrailsCoordinatorFromConfig(cfg config.GuardrailsConfig, deps guardrails.Dependencies, logger *zap.Logger, opts ...guardrails.ExecutorOption) (*GuardrailsCoordinator, error) {
	if deps.Logger == nil {
		deps.Logger = logger
	}

	input, err := guardrails.BuildSet(cfg.Input, deps)
	if err != nil {
		return nil, fmt.Errorf("build input guardrails: %w", err)
	}
	output, err := guardrails.BuildSet(cfg.Output, deps)
	if err != nil {
		return nil, fmt.Errorf("build output guardrails: %w", err)
	}

	if cfg.MaxConcurrency > 0 {
		opts = append(opts, guardrails.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	gc := NewGuardrailsCoordinator(input, output, logger, opts...)
	gc.SetEnabled(cfg.Enabled)
	return gc, nil
}

func newStageExecutor(stage string, logger *zap.Logger, opts []guardrails.ExecutorOption) *guardrails.Executor {
	all := make([]guardrails.ExecutorOption, 0, len(opts)+2)
	all = append(all, guardrails.WithLogger(logger))
	all = append(all, opts...)
	all = append(all, guardrails.WithStage(stage))
	return guardrails.NewExecutor(all...)
}

// CheckInput 在模型调用前校验输入。
// 返回应转发给模型的内容（有改写时为改写后的内容）与执行结果；
// 中断时返回 GUARDRAIL_ABORTED，未通过时返回 GUARDRAILS_VIOLATED。
func (gc *GuardrailsCoordinator) CheckInput(ctx context.Context, content types.Content) (types.Content, *guardrails.ExecutionResult, error) {
	gc.mu.RLock()
	set := gc.input
	gc.mu.RUnlock()
	return gc.check(ctx, gc.inputExec, set, content)
}

// CheckOutput 在模型返回后校验输出，语义同 CheckInput
func (gc *GuardrailsCoordinator) CheckOutput(ctx context.Context, content types.Content) (types.Content, *guardrails.ExecutionResult, error) {
	gc.mu.RLock()
	set := gc.output
	gc.mu.RUnlock()
	return gc.check(ctx, gc.outputExec, set, content)
}

func (gc *GuardrailsCoordinator) check(ctx context.Context, exec *guardrails.Executor, set *guardrails.Set, content types.Content) (types.Content, *guardrails.ExecutionResult, error) {
	stage := exec.Stage()
	if !gc.Enabled() {
		return content, &guardrails.ExecutionResult{Passed: true, Failures: []guardrails.Failure{}}, nil
	}

	result, err := exec.Run(ctx, set, content)
	if err != nil {
		if abort, ok := guardrails.IsAbort(err); ok {
			return content, nil, types.NewError(types.ErrGuardrailAborted, fmt.Sprintf("%s blocked by guardrail %q", stage, abort.Name)).
				WithCause(abort).
				WithStage(stage)
		}
		return content, nil, types.NewError(types.ErrInternalError, stage+" guardrails failed").WithCause(err).WithStage(stage)
	}

	forwarded := result.ContentOr(content)
	if !result.Passed {
		return forwarded, result, types.NewError(types.ErrGuardrailsViolated, stage+" failed guardrail validation").
			WithCause(result.Err()).
			WithStage(stage)
	}
	return forwarded, result, nil
}

// Enabled 是否启用护栏
func (gc *GuardrailsCoordinator) Enabled() bool {
	return gc.enabled.Load()
}

// SetEnabled 启用或禁用护栏；禁用时所有检查直接通过
func (gc *GuardrailsCoordinator) SetEnabled(enabled bool) {
	gc.enabled.Store(enabled)
}

// AddInputGuardrail 向输入集合追加护栏
func (gc *GuardrailsCoordinator) AddInputGuardrail(g guardrails.Guardrail) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.input = gc.input.With(g)
}

// AddOutputGuardrail 向输出集合追加护栏
func (gc *GuardrailsCoordinator) AddOutputGuardrail(g guardrails.Guardrail) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.output = gc.output.With(g)
}

// InputGuardrails 返回当前输入集合
func (gc *GuardrailsCoordinator) InputGuardrails() *guardrails.Set {
	gc.mu.RLock()
	defer gc.mu.RUnlock()
	return gc.input
}

// OutputGuardrails 返回当前输出集合
func (gc *GuardrailsCoordinator) OutputGuardrails() *guardrails.Set {
	gc.mu.RLock()
	defer gc.mu.RUnlock()
	return gc.output
}

// BuildValidationFeedbackMessage 为未通过的输出构造反馈消息，
// 可作为下一轮用户消息发回模型请求修正。
func BuildValidationFeedbackMessage(result *guardrails.ExecutionResult) string {
	var sb strings.Builder
	sb.WriteString("Your previous response failed validation. Please regenerate your response addressing the following issues:\n")
	if result != nil {
		for _, f := range result.Failures {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", f.Name, f.Severity, f.Reason)
		}
	}
	sb.WriteString("\nPlease provide a corrected response.")
	return sb.String()
}
