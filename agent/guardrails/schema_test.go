package guardrails

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/guardflow/types"
)

const answerSchema = `{
  "type": "object",
  "required": ["answer", "confidence"],
  "properties": {
    "answer": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

func TestSchemaValidator(t *testing.T) {
	v, err := NewSchemaValidator("answer_schema", []byte(answerSchema), SeverityMedium)
	require.NoError(t, err)
	assert.Equal(t, "answer_schema", v.Name())

	ctx := context.Background()
	modelText := func(s string) types.Content { return types.NewTextContent(types.RoleModel, s) }

	assert.True(t, v.Validate(ctx, modelText(`{"answer":"42","confidence":0.9}`)).IsPass())
	assert.True(t, v.Validate(ctx, modelText("```json\n{\"answer\":\"42\",\"confidence\":0.5}\n```")).IsPass())

	res := v.Validate(ctx, modelText(`{"answer":"42"}`))
	require.True(t, res.IsFail())
	assert.Equal(t, SeverityMedium, res.Severity)
	assert.Contains(t, res.Reason, "Content does not match schema")
	assert.Contains(t, res.Reason, "confidence")

	res = v.Validate(ctx, modelText(`not json`))
	require.True(t, res.IsFail())
	assert.Contains(t, res.Reason, "not valid JSON")

	res = v.Validate(ctx, modelText("   "))
	require.True(t, res.IsFail())
}

func TestSchemaValidator_InvalidSchema(t *testing.T) {
	_, err := NewSchemaValidator("broken", []byte(`{"type": 12}`), SeverityHigh)
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = NewSchemaValidator("not_json", []byte(`{`), SeverityHigh)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}
