package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/guardflow/types"
)

// PIIType PII 类型
type PIIType string

const (
	// PIITypeEmail 邮箱地址
	PIITypeEmail PIIType = "email"
	// PIITypePhone 电话号码（北美格式）
	PIITypePhone PIIType = "phone"
	// PIITypeSSN 社会安全号
	PIITypeSSN PIIType = "ssn"
	// PIITypeCreditCard 信用卡号
	PIITypeCreditCard PIIType = "credit_card"
	// PIITypeIPAddress IPv4 地址，默认不启用
	PIITypeIPAddress PIIType = "ip_address"
)

type piiRule struct {
	display     string
	pattern     string
	replacement string
}

var piiRules = map[PIIType]piiRule{
	PIITypeEmail: {
		display:     "Email",
		pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`,
		replacement: "[EMAIL REDACTED]",
	},
	PIITypePhone: {
		display:     "Phone",
		pattern:     `\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`,
		replacement: "[PHONE REDACTED]",
	},
	PIITypeSSN: {
		display:     "SSN",
		pattern:     `\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`,
		replacement: "[SSN REDACTED]",
	},
	PIITypeCreditCard: {
		display:     "CreditCard",
		pattern:     `\b(?:\d{4}[-\s]?){3}\d{4}\b`,
		replacement: "[CREDIT CARD REDACTED]",
	},
	PIITypeIPAddress: {
		display:     "IPAddress",
		pattern:     `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
		replacement: "[IP REDACTED]",
	},
}

// DefaultPIITypes 默认启用的类型，顺序即替换顺序
var DefaultPIITypes = []PIIType{PIITypeEmail, PIITypePhone, PIITypeSSN, PIITypeCreditCard}

// ParsePIIType 解析 PII 类型（大小写不敏感，接受 "CreditCard" 与 "credit_card"）
func ParsePIIType(s string) (PIIType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for t, rule := range piiRules {
		if norm == string(t) || norm == strings.ToLower(rule.display) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown PII type %q", ErrInvalidConfig, s)
}

// CustomPIIPattern 自定义脱敏规则
type CustomPIIPattern struct {
	Name        string `json:"name" yaml:"name"`
	Pattern     string `json:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

// PIIRedactorConfig PII 脱敏器配置
type PIIRedactorConfig struct {
	// Name 护栏名称，默认 pii_redactor
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Types 启用的内置类型，为空时使用 DefaultPIITypes
	Types []PIIType `json:"types,omitempty" yaml:"types,omitempty"`
	// Custom 追加的自定义规则，在内置规则之后执行
	Custom []CustomPIIPattern `json:"custom,omitempty" yaml:"custom,omitempty"`
}

type piiMatcher struct {
	display     string
	re          *regexp.Regexp
	replacement string
}

// PIIRedactor 把文本中的 PII 替换为占位符
// 必须在顺序阶段执行，保证后续护栏看到的是脱敏后的内容。
// 占位符本身不会再被任何规则命中，因此重复脱敏结果不变。
type PIIRedactor struct {
	name     string
	matchers []piiMatcher
}

// NewPIIRedactor 使用内置规则创建脱敏器，types 为空时启用默认类型
func NewPIIRedactor(types ...PIIType) *PIIRedactor {
	r, err := NewPIIRedactorWithConfig(PIIRedactorConfig{Types: types})
	if err != nil {
		panic(err)
	}
	return r
}

// NewPIIRedactorWithConfig 按配置创建脱敏器
func NewPIIRedactorWithConfig(config PIIRedactorConfig) (*PIIRedactor, error) {
	name := config.Name
	if name == "" {
		name = "pii_redactor"
	}
	enabled := config.Types
	if len(enabled) == 0 {
		enabled = DefaultPIITypes
	}

	r := &PIIRedactor{name: name}
	seen := make(map[PIIType]bool, len(enabled))
	for _, t := range enabled {
		rule, ok := piiRules[t]
		if !ok {
			return nil, fmt.Errorf("%w: unknown PII type %q", ErrInvalidConfig, t)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		r.matchers = append(r.matchers, piiMatcher{
			display:     rule.display,
			re:          regexp.MustCompile(rule.pattern),
			replacement: rule.replacement,
		})
	}

	for _, c := range config.Custom {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: custom PII pattern without name", ErrInvalidConfig)
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: custom PII pattern %q: %v", ErrInvalidPattern, c.Name, err)
		}
		replacement := c.Replacement
		if replacement == "" {
			replacement = "[" + strings.ToUpper(c.Name) + " REDACTED]"
		}
		if re.MatchString(replacement) {
			return nil, fmt.Errorf("%w: custom PII pattern %q matches its own replacement", ErrInvalidPattern, c.Name)
		}
		r.matchers = append(r.matchers, piiMatcher{display: c.Name, re: re, replacement: replacement})
	}

	return r, nil
}

// Name 返回护栏名称
func (r *PIIRedactor) Name() string { return r.name }

// RunParallel 脱敏器改写内容，必须顺序执行
func (r *PIIRedactor) RunParallel() bool { return false }

// FailFast 实现 Guardrail（脱敏器从不失败）
func (r *PIIRedactor) FailFast() bool { return true }

// Redact 脱敏单段文本，返回结果与命中的类型（按规则顺序）
func (r *PIIRedactor) Redact(text string) (string, []string) {
	var found []string
	for _, m := range r.matchers {
		if m.re.MatchString(text) {
			found = append(found, m.display)
			text = m.re.ReplaceAllLiteralString(text, m.replacement)
		}
	}
	return text, found
}

// Validate 逐段脱敏文本，非文本段原样保留
func (r *PIIRedactor) Validate(_ context.Context, content types.Content) Result {
	var found []string
	seen := make(map[string]bool)

	redacted, changed := content.MapText(func(text string) string {
		out, kinds := r.Redact(text)
		for _, k := range kinds {
			if !seen[k] {
				seen[k] = true
				found = append(found, k)
			}
		}
		return out
	})
	if !changed {
		return Pass()
	}
	return Transform(redacted, "Redacted PII types: "+strings.Join(found, ", "))
}
