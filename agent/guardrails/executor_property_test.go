package guardrails

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var allSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh}

// Passed 当且仅当所有失败都是 Low；失败顺序等于注册顺序，与完成顺序无关
func TestProperty_Executor_SeverityPolicyAndOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(rt, "n")

		gs := make([]Guardrail, 0, n)
		var expected []Failure
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("g%d", i)
			fails := rapid.Bool().Draw(rt, name+"_fails")
			seq := rapid.Bool().Draw(rt, name+"_sequential")
			delay := time.Duration(rapid.IntRange(0, 3).Draw(rt, name+"_delay")) * time.Millisecond

			res := Pass()
			if fails {
				sev := rapid.SampledFrom(allSeverities).Draw(rt, name+"_severity")
				res = Fail("reason "+name, sev)
			}
			stub := newStub(name, res).withDelay(delay)
			if seq {
				stub.sequential()
			}
			gs = append(gs, stub)
		}

		// 期望顺序：先并发组再顺序组，各自保持注册顺序
		for _, phaseSequential := range []bool{false, true} {
			for _, g := range gs {
				stub := g.(*stubGuardrail)
				if stub.Sequential != phaseSequential {
					continue
				}
				if res := stub.result(userText("")); res.IsFail() {
					expected = append(expected, Failure{Name: stub.name, Reason: res.Reason, Severity: res.Severity})
				}
			}
		}

		result, err := Run(context.Background(), NewSet(gs...), userText("payload"))
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		wantPassed := true
		for _, f := range expected {
			if f.Severity != SeverityLow {
				wantPassed = false
			}
		}
		if result.Passed != wantPassed {
			rt.Fatalf("passed = %v, want %v (failures %v)", result.Passed, wantPassed, result.Failures)
		}
		if len(result.Failures) != len(expected) {
			rt.Fatalf("got %d failures, want %d", len(result.Failures), len(expected))
		}
		for i := range expected {
			if result.Failures[i] != expected[i] {
				rt.Fatalf("failure %d = %+v, want %+v", i, result.Failures[i], expected[i])
			}
		}
		if result.TransformedContent != nil {
			rt.Fatalf("no guardrail transforms, but TransformedContent = %v", result.TransformedContent)
		}
	})
}

// 任意一个 Critical 且 FailFast 的失败都会中断，且被归咎的是执行顺序中的第一个
func TestProperty_Executor_CriticalAbort(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		criticalAt := rapid.IntRange(0, n-1).Draw(rt, "critical_at")

		gs := make([]Guardrail, 0, n)
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("g%d", i)
			res := Fail("medium "+name, SeverityMedium)
			if i == criticalAt {
				res = Fail("critical "+name, SeverityCritical)
			}
			gs = append(gs, newStub(name, res).withDelay(time.Duration(n-i)*time.Millisecond))
		}

		result, err := Run(context.Background(), NewSet(gs...), userText("payload"))
		if result != nil {
			rt.Fatalf("expected nil result on abort, got %+v", result)
		}
		abort, ok := IsAbort(err)
		if !ok {
			rt.Fatalf("expected *AbortError, got %v", err)
		}
		if want := fmt.Sprintf("g%d", criticalAt); abort.Name != want {
			rt.Fatalf("abort blamed %s, want %s", abort.Name, want)
		}
	})
}
