package guardrails

import (
	"context"

	"github.com/BaSui01/guardflow/types"
)

// Guardrail 护栏能力接口
// 任何内容检查器或改写器（关键词过滤、PII 脱敏、Schema 校验、限流等）都实现它。
//
// Validate 除返回的 Result 外不得产生可见副作用。需要看到其他护栏改写结果的
// 护栏必须让 RunParallel 返回 false；FailFast 只影响 Critical 级别的失败。
type Guardrail interface {
	// Name 返回护栏名称，在同一个 Set 中唯一
	Name() string
	// Validate 校验内容，是唯一可能阻塞的操作
	Validate(ctx context.Context, content types.Content) Result
	// RunParallel 是否可与其他护栏并发执行（默认 true）
	RunParallel() bool
	// FailFast Critical 失败时是否中断整次执行（默认 true）
	FailFast() bool
}

// Policy 护栏执行策略，可嵌入具体护栏以获得默认实现。
// 零值表示"并发执行、Critical 即中断"。
type Policy struct {
	// Sequential 为 true 时在顺序阶段执行
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
	// DisableFailFast 为 true 时 Critical 失败只记录不中断
	DisableFailFast bool `json:"disable_fail_fast,omitempty" yaml:"disable_fail_fast,omitempty"`
}

// RunParallel 实现 Guardrail
func (p Policy) RunParallel() bool { return !p.Sequential }

// FailFast 实现 Guardrail
func (p Policy) FailFast() bool { return !p.DisableFailFast }

// Override 用新的执行策略包装护栏，名称与校验逻辑不变
func Override(g Guardrail, policy Policy) Guardrail {
	return &overridden{Guardrail: g, policy: policy}
}

type overridden struct {
	Guardrail
	policy Policy
}

func (o *overridden) RunParallel() bool { return o.policy.RunParallel() }
func (o *overridden) FailFast() bool    { return o.policy.FailFast() }

// ValidateFunc 校验函数签名
type ValidateFunc func(ctx context.Context, content types.Content) Result

// FuncGuardrail 把普通函数适配为 Guardrail，便于接入自定义规则
type FuncGuardrail struct {
	Policy
	name string
	fn   ValidateFunc
}

// NewFuncGuardrail 创建函数护栏
func NewFuncGuardrail(name string, fn ValidateFunc, policy Policy) *FuncGuardrail {
	return &FuncGuardrail{Policy: policy, name: name, fn: fn}
}

// Name 返回护栏名称
func (g *FuncGuardrail) Name() string {
	return g.name
}

// Validate 调用底层函数；函数为空时直接通过
func (g *FuncGuardrail) Validate(ctx context.Context, content types.Content) Result {
	if g.fn == nil {
		return Pass()
	}
	return g.fn(ctx, content)
}
