package guardrails

import (
	"errors"
	"fmt"
	"strings"
)

// 构造期错误：由具体护栏的构造函数或工厂返回，不会在校验期出现
var (
	ErrInvalidPattern       = errors.New("guardrails: invalid pattern")
	ErrInvalidSchema        = errors.New("guardrails: invalid schema")
	ErrInvalidConfig        = errors.New("guardrails: invalid config")
	ErrDuplicateGuardrail   = errors.New("guardrails: duplicate guardrail name")
	ErrUnknownGuardrailType = errors.New("guardrails: unknown guardrail type")
)

// AbortError 表示 Critical 且 FailFast 的失败中断了整次执行。
// 中断时此前记录的失败全部丢弃，调用方只会看到触发中断的护栏。
type AbortError struct {
	Name     string
	Reason   string
	Severity Severity
}

// Error 实现 error 接口
func (e *AbortError) Error() string {
	return fmt.Sprintf("guardrail %q failed: %s", e.Name, e.Reason)
}

// IsAbort 从错误链中提取 *AbortError
func IsAbort(err error) (*AbortError, bool) {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort, true
	}
	return nil, false
}

// MultipleFailuresError 把多条记录的失败打包成一个错误。
// 由调用方通过 ExecutionResult.Err 构造，执行器从不返回它。
type MultipleFailuresError struct {
	Failures []Failure
}

// Error 实现 error 接口，按顺序列出全部失败
func (e *MultipleFailuresError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", f.Name, f.Severity, f.Reason))
	}
	return fmt.Sprintf("%d guardrail(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap 暴露每条失败对应的 *FailureError，便于 errors.As 逐条匹配
func (e *MultipleFailuresError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, &FailureError{Failure: f})
	}
	return errs
}

// FailureError 单条失败的错误形式
type FailureError struct {
	Failure Failure
}

// Error 实现 error 接口
func (e *FailureError) Error() string {
	return fmt.Sprintf("guardrail %q failed: %s", e.Failure.Name, e.Failure.Reason)
}
