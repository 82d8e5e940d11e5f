package guardrails

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/guardflow/types"
)

func TestWithTimeout(t *testing.T) {
	slow := NewFuncGuardrail("slow", func(ctx context.Context, _ types.Content) Result {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return Pass()
	}, Policy{Sequential: true})

	g := WithTimeout(slow, 20*time.Millisecond, SeverityMedium)
	assert.Equal(t, "slow", g.Name())
	assert.False(t, g.RunParallel())

	res := g.Validate(context.Background(), userText("x"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityMedium, res.Severity)
	assert.Equal(t, "Guardrail timed out after 20ms", res.Reason)
}

func TestWithTimeout_FastGuardrail(t *testing.T) {
	fast := NewFuncGuardrail("fast", func(context.Context, types.Content) Result {
		return Fail("nope", SeverityLow)
	}, Policy{})

	res := WithTimeout(fast, time.Second, SeverityHigh).Validate(context.Background(), userText("x"))
	assert.Equal(t, Fail("nope", SeverityLow), res)
}

func TestWithTimeout_ZeroIsNoop(t *testing.T) {
	g := NewFuncGuardrail("g", nil, Policy{})
	assert.Same(t, g, WithTimeout(g, 0, SeverityHigh))
}

func TestWithTimeout_Cancelled(t *testing.T) {
	blocking := NewFuncGuardrail("blocking", func(ctx context.Context, _ types.Content) Result {
		<-ctx.Done()
		return Pass()
	}, Policy{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := WithTimeout(blocking, time.Second, SeverityHigh).Validate(ctx, userText("x"))
	require.True(t, res.IsFail())
	assert.Equal(t, "Guardrail cancelled", res.Reason)
}

func TestWithTimeout_InsidePipeline(t *testing.T) {
	hang := NewFuncGuardrail("hang", func(ctx context.Context, _ types.Content) Result {
		<-ctx.Done()
		return Pass()
	}, Policy{})

	set := NewSet(WithTimeout(hang, 10*time.Millisecond, SeverityCritical), newStub("other", Fail("x", SeverityLow)))
	_, err := Run(context.Background(), set, userText("x"))
	abort, ok := IsAbort(err)
	require.True(t, ok)
	assert.Equal(t, "hang", abort.Name)
}
