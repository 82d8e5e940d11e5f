package guardrails

import (
	"github.com/BaSui01/guardflow/types"
)

// Outcome 单个护栏的判定类别
type Outcome int

const (
	// OutcomePass 无异议
	OutcomePass Outcome = iota
	// OutcomeFail 拒绝内容，但不修改内容
	OutcomeFail
	// OutcomeTransform 接受内容但用新内容替换
	OutcomeTransform
)

// String 返回判定名称，用于日志、指标与审计
func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeTransform:
		return "transform"
	default:
		return "unknown"
	}
}

// Result 护栏校验结果（Pass / Fail / Transform 三选一）
// 只有 Fail 使用 Severity，只有 Transform 使用 Content。
type Result struct {
	Outcome  Outcome
	Reason   string
	Severity Severity
	Content  types.Content
}

// Pass 返回通过结果
func Pass() Result {
	return Result{Outcome: OutcomePass}
}

// Fail 返回失败结果
func Fail(reason string, severity Severity) Result {
	return Result{Outcome: OutcomeFail, Reason: reason, Severity: severity}
}

// Transform 返回改写结果，执行器会把 content 传递给后续阶段
func Transform(content types.Content, reason string) Result {
	return Result{Outcome: OutcomeTransform, Reason: reason, Content: content}
}

// IsPass 是否通过
func (r Result) IsPass() bool { return r.Outcome == OutcomePass }

// IsFail 是否失败
func (r Result) IsFail() bool { return r.Outcome == OutcomeFail }

// IsTransform 是否改写
func (r Result) IsTransform() bool { return r.Outcome == OutcomeTransform }

// Failure 一条被记录的（非致命）失败
type Failure struct {
	Name     string   `json:"name"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// Transformation 一次被应用的改写
type Transformation struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ExecutionResult 一次护栏执行的聚合结果
type ExecutionResult struct {
	// Passed 没有失败，或所有失败都是 Low 级别
	Passed bool `json:"passed"`
	// TransformedContent 仅当最终内容与输入按值不同时非空
	TransformedContent *types.Content `json:"transformed_content,omitempty"`
	// Failures 按注册顺序记录的失败
	Failures []Failure `json:"failures"`
	// Transforms 按应用顺序记录的改写，仅供参考
	Transforms []Transformation `json:"transforms,omitempty"`
}

// Err 把未通过的结果转换为 *MultipleFailuresError；通过时返回 nil。
// 执行器自身从不构造该错误。
func (r *ExecutionResult) Err() error {
	if r == nil || r.Passed {
		return nil
	}
	failures := make([]Failure, len(r.Failures))
	copy(failures, r.Failures)
	return &MultipleFailuresError{Failures: failures}
}

// ContentOr 返回改写后的内容，未改写时返回 original
func (r *ExecutionResult) ContentOr(original types.Content) types.Content {
	if r == nil || r.TransformedContent == nil {
		return original
	}
	return *r.TransformedContent
}

// HighestSeverity 返回记录的最高失败级别；没有失败时返回 0
func (r *ExecutionResult) HighestSeverity() Severity {
	var highest Severity
	if r == nil {
		return highest
	}
	for _, f := range r.Failures {
		if f.Severity > highest {
			highest = f.Severity
		}
	}
	return highest
}

func passedUnder(failures []Failure) bool {
	for _, f := range failures {
		if f.Severity != SeverityLow {
			return false
		}
	}
	return true
}
