package guardrails

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/guardflow/types"
)

func TestHarmfulContent(t *testing.T) {
	f := HarmfulContent()
	assert.Equal(t, "harmful_content", f.Name())
	assert.True(t, f.RunParallel())
	assert.True(t, f.FailFast())

	res := f.Validate(context.Background(), userText("How to hack a computer"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityCritical, res.Severity)
	assert.Equal(t, "Content contains blocked keywords (matched 1 patterns)", res.Reason)

	assert.True(t, f.Validate(context.Background(), userText("How to bake a cake")).IsPass())
	// 整词匹配
	assert.True(t, f.Validate(context.Background(), userText("The hackathon starts at noon")).IsPass())
}

func TestContentFilter_CountsMatchedKeywords(t *testing.T) {
	f := HarmfulContent()
	res := f.Validate(context.Background(), userText("BOMB the server with malware"))
	require.True(t, res.IsFail())
	assert.Equal(t, "Content contains blocked keywords (matched 2 patterns)", res.Reason)
}

func TestOnTopic(t *testing.T) {
	f := OnTopic("cooking", []string{"recipe", "cook", "bake"})
	assert.Equal(t, "on_topic_cooking", f.Name())

	assert.True(t, f.Validate(context.Background(), userText("Give me a recipe for cookies")).IsPass())

	res := f.Validate(context.Background(), userText("What is the weather today?"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityMedium, res.Severity)
	assert.Equal(t, `Content is off-topic. Expected topics: ["recipe", "cook", "bake"]`, res.Reason)
}

func TestMaxLength(t *testing.T) {
	f := MaxLength(10)
	assert.Equal(t, "max_length", f.Name())

	res := f.Validate(context.Background(), userText("This is a very long message"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityMedium, res.Severity)
	assert.Equal(t, "Content exceeds maximum length (27 > 10)", res.Reason)

	assert.True(t, f.Validate(context.Background(), userText("short")).IsPass())
	// 按字符而不是字节计数
	assert.True(t, f.Validate(context.Background(), userText("你好你好你好你好你好")).IsPass())
}

func TestContentFilter_MinLength(t *testing.T) {
	f, err := NewContentFilter("min", ContentFilterConfig{MinLength: 5})
	require.NoError(t, err)

	res := f.Validate(context.Background(), userText("hey"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityHigh, res.Severity)
	assert.Equal(t, "Content below minimum length (3 < 5)", res.Reason)
}

func TestBlockedKeywords(t *testing.T) {
	f := BlockedKeywords([]string{"forbidden", "banned"})
	res := f.Validate(context.Background(), userText("This is forbidden content"))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityHigh, res.Severity)

	assert.True(t, f.Validate(context.Background(), userText("Nothing to see")).IsPass())
}

func TestContentFilter_CheckOrder(t *testing.T) {
	f, err := NewContentFilter("all", ContentFilterConfig{
		BlockedKeywords: []string{"secret"},
		RequiredTopics:  []string{"billing"},
		MaxLength:       5,
	})
	require.NoError(t, err)

	// 关键词先于主题与长度检查
	res := f.Validate(context.Background(), userText("the secret is out"))
	assert.Contains(t, res.Reason, "blocked keywords")

	res = f.Validate(context.Background(), userText("hello world"))
	assert.Contains(t, res.Reason, "off-topic")

	res = f.Validate(context.Background(), userText("billing question"))
	assert.Contains(t, res.Reason, "maximum length")
}

func TestContentFilter_BlockedPatterns(t *testing.T) {
	f, err := NewContentFilter("patterns", ContentFilterConfig{
		BlockedPatterns: []string{`\b\d{4}-\d{4}\b`},
	})
	require.NoError(t, err)
	assert.True(t, f.Validate(context.Background(), userText("code 1234-5678")).IsFail())

	_, err = NewContentFilter("broken", ContentFilterConfig{BlockedPatterns: []string{"("}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPattern))
}

func TestContentFilter_InvalidConfig(t *testing.T) {
	_, err := NewContentFilter("", ContentFilterConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewContentFilter("neg", ContentFilterConfig{MaxLength: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewContentFilter("sev", ContentFilterConfig{Severity: Severity(9)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestContentFilter_IgnoresNonTextParts(t *testing.T) {
	content := types.NewContent(types.RoleUser).
		WithPart(types.NewInlineDataPart("image/png", []byte("bomb"))).
		WithText("a picture")
	assert.True(t, HarmfulContent().Validate(context.Background(), content).IsPass())
}
