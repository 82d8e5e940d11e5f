package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/BaSui01/guardflow/types"
)

var codeFence = regexp.MustCompile("(?s)^\\s*```[a-zA-Z0-9_-]*\\s*\\n(.*?)\\n?\\s*```\\s*$")

// SchemaValidator 结构化输出护栏
// 把文本解析为 JSON（允许包裹在 markdown 代码块中）并按 JSON Schema 校验。
type SchemaValidator struct {
	Policy
	name     string
	schema   *gojsonschema.Schema
	severity Severity
}

// NewSchemaValidator 编译 schema，schema 非法时返回 ErrInvalidSchema
func NewSchemaValidator(name string, schemaJSON []byte, severity Severity) (*SchemaValidator, error) {
	if name == "" {
		name = "json_schema"
	}
	if severity == 0 {
		severity = SeverityHigh
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: schema validator %q has invalid severity", ErrInvalidConfig, name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, name, err)
	}
	return &SchemaValidator{name: name, schema: schema, severity: severity}, nil
}

// Name 返回护栏名称
func (v *SchemaValidator) Name() string {
	return v.name
}

// Validate 实现 Guardrail
func (v *SchemaValidator) Validate(_ context.Context, content types.Content) Result {
	doc := stripCodeFence(content.Text())
	if doc == "" {
		return Fail("Content is empty, expected JSON document", v.severity)
	}

	result, err := v.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return Fail(fmt.Sprintf("Content is not valid JSON: %v", err), v.severity)
	}
	if result.Valid() {
		return Pass()
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return Fail("Content does not match schema: "+strings.Join(errs, "; "), v.severity)
}

func stripCodeFence(text string) string {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
