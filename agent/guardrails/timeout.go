package guardrails

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/guardflow/types"
)

// WithTimeout 为护栏加上超时：超时的检查以 severity 级别失败。
// 执行器本身不设超时，需要时在外部包裹。被包裹的护栏会收到带截止时间的 ctx；
// 不理会 ctx 的护栏在超时后仍会在后台跑完，其结果被丢弃。
func WithTimeout(g Guardrail, timeout time.Duration, severity Severity) Guardrail {
	if timeout <= 0 {
		return g
	}
	if !severity.Valid() {
		severity = SeverityHigh
	}
	return &timeoutGuardrail{Guardrail: g, timeout: timeout, severity: severity}
}

type timeoutGuardrail struct {
	Guardrail
	timeout  time.Duration
	severity Severity
}

func (t *timeoutGuardrail) Validate(ctx context.Context, content types.Content) Result {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fail(fmt.Sprintf("guardrail panicked: %v", r), SeverityCritical)
			}
		}()
		done <- t.Guardrail.Validate(ctx, content)
	}()

	select {
	case res := <-done:
		// 截止时间与结果同时到达时按超时处理
		if ctx.Err() == nil {
			return res
		}
	case <-ctx.Done():
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return Fail("Guardrail cancelled", t.severity)
	}
	return Fail(fmt.Sprintf("Guardrail timed out after %s", t.timeout), t.severity)
}
