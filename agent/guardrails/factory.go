package guardrails

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/types"
)

// 工厂支持的护栏类型
const (
	TypeContentFilter   = "content_filter"
	TypeHarmfulContent  = "harmful_content"
	TypeMaxLength       = "max_length"
	TypeBlockedKeywords = "blocked_keywords"
	TypeOnTopic         = "on_topic"
	TypePIIRedactor     = "pii_redactor"
	TypeInjection       = "injection"
	TypeShadowAI        = "shadow_ai"
	TypeSchema          = "schema"
	TypeRateLimit       = "rate_limit"
	TypeRedisRateLimit  = "redis_rate_limit"
	TypeTokenLimit      = "token_limit"
)

// Spec 声明式护栏配置，对应 YAML 中 guardrails.input / guardrails.output 的一项
type Spec struct {
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// 通用覆盖项
	Severity   Severity      `yaml:"severity,omitempty" json:"severity,omitempty"`
	Sequential *bool         `yaml:"sequential,omitempty" json:"sequential,omitempty"`
	FailFast   *bool         `yaml:"fail_fast,omitempty" json:"fail_fast,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// content_filter / blocked_keywords / on_topic / max_length
	Keywords  []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Patterns  []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Topic     string   `yaml:"topic,omitempty" json:"topic,omitempty"`
	Topics    []string `yaml:"topics,omitempty" json:"topics,omitempty"`
	MaxLength int      `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	MinLength int      `yaml:"min_length,omitempty" json:"min_length,omitempty"`

	// pii_redactor
	PIITypes  []string           `yaml:"pii_types,omitempty" json:"pii_types,omitempty"`
	CustomPII []CustomPIIPattern `yaml:"custom_pii,omitempty" json:"custom_pii,omitempty"`

	// injection
	Languages     []string `yaml:"languages,omitempty" json:"languages,omitempty"`
	CaseSensitive bool     `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`

	// shadow_ai
	WhitelistedDomains []string `yaml:"whitelisted_domains,omitempty" json:"whitelisted_domains,omitempty"`

	// schema：内联 JSON 或文件路径二选一
	Schema     string `yaml:"schema,omitempty" json:"schema,omitempty"`
	SchemaFile string `yaml:"schema_file,omitempty" json:"schema_file,omitempty"`

	// rate_limit / redis_rate_limit
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	Burst             int           `yaml:"burst,omitempty" json:"burst,omitempty"`
	Limit             int64         `yaml:"limit,omitempty" json:"limit,omitempty"`
	Window            time.Duration `yaml:"window,omitempty" json:"window,omitempty"`

	// token_limit
	MaxTokens int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Encoding  string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

// Dependencies 工厂构建护栏时需要的外部依赖
type Dependencies struct {
	// Redis redis_rate_limit 使用
	Redis redis.Cmdable
	// Logger 传给需要记录日志的护栏
	Logger *zap.Logger
	// KeyFunc 限流维度，默认 KeyByTenantUser
	KeyFunc KeyFunc
	// TokenCounter token_limit 的计数器；为空时按 Encoding 选择 tiktoken，再退化为估算器
	TokenCounter TokenCounter
	// ReadFile 读取 schema_file，默认 os.ReadFile
	ReadFile func(name string) ([]byte, error)
}

// BuildSet 按顺序构建护栏集合，并校验名称唯一
func BuildSet(specs []Spec, deps Dependencies) (*Set, error) {
	built := make([]Guardrail, 0, len(specs))
	for i, spec := range specs {
		g, err := Build(spec, deps)
		if err != nil {
			return nil, fmt.Errorf("guardrail #%d (%s): %w", i, spec.Type, err)
		}
		built = append(built, g)
	}

	set := NewSet(built...)
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Build 构建单个护栏，并按 Spec 应用执行策略、级别与超时覆盖
func Build(spec Spec, deps Dependencies) (Guardrail, error) {
	if spec.Severity != 0 && !spec.Severity.Valid() {
		return nil, fmt.Errorf("%w: invalid severity %d", ErrInvalidConfig, int(spec.Severity))
	}

	g, err := buildBase(spec, deps)
	if err != nil {
		return nil, err
	}

	if spec.Severity != 0 && !severityIsNative(spec.Type) {
		g = WithSeverity(g, spec.Severity)
	}
	if spec.Sequential != nil || spec.FailFast != nil {
		policy := Policy{Sequential: !g.RunParallel(), DisableFailFast: !g.FailFast()}
		if spec.Sequential != nil {
			policy.Sequential = *spec.Sequential
		}
		if spec.FailFast != nil {
			policy.DisableFailFast = !*spec.FailFast
		}
		g = Override(g, policy)
	}
	if spec.Timeout > 0 {
		sev := spec.Severity
		if sev == 0 {
			sev = SeverityHigh
		}
		g = WithTimeout(g, spec.Timeout, sev)
	}
	return g, nil
}

// severityIsNative 这些类型把 Spec.Severity 直接传给构造函数
func severityIsNative(typ string) bool {
	switch typ {
	case TypeContentFilter, TypeHarmfulContent, TypeMaxLength, TypeBlockedKeywords, TypeOnTopic,
		TypeSchema, TypeRateLimit, TypeRedisRateLimit, TypeTokenLimit:
		return true
	}
	return false
}

func buildBase(spec Spec, deps Dependencies) (Guardrail, error) {
	switch spec.Type {
	case TypeContentFilter:
		return NewContentFilter(nameOr(spec.Name, "content_filter"), ContentFilterConfig{
			BlockedKeywords: spec.Keywords,
			BlockedPatterns: spec.Patterns,
			RequiredTopics:  spec.Topics,
			MaxLength:       spec.MaxLength,
			MinLength:       spec.MinLength,
			Severity:        spec.Severity,
		})

	case TypeHarmfulContent:
		cfg := HarmfulContent().Config()
		cfg.BlockedKeywords = append(cfg.BlockedKeywords, spec.Keywords...)
		if spec.Severity != 0 {
			cfg.Severity = spec.Severity
		}
		return NewContentFilter(nameOr(spec.Name, "harmful_content"), cfg)

	case TypeMaxLength:
		if spec.MaxLength <= 0 {
			return nil, fmt.Errorf("%w: max_length requires max_length > 0", ErrInvalidConfig)
		}
		return NewContentFilter(nameOr(spec.Name, "max_length"), ContentFilterConfig{
			MaxLength: spec.MaxLength,
			Severity:  severityOr(spec.Severity, SeverityMedium),
		})

	case TypeBlockedKeywords:
		if len(spec.Keywords) == 0 {
			return nil, fmt.Errorf("%w: blocked_keywords requires keywords", ErrInvalidConfig)
		}
		return NewContentFilter(nameOr(spec.Name, "blocked_keywords"), ContentFilterConfig{
			BlockedKeywords: spec.Keywords,
			Severity:        severityOr(spec.Severity, SeverityHigh),
		})

	case TypeOnTopic:
		if spec.Topic == "" || len(spec.Topics) == 0 {
			return nil, fmt.Errorf("%w: on_topic requires topic and topics", ErrInvalidConfig)
		}
		return NewContentFilter(nameOr(spec.Name, "on_topic_"+spec.Topic), ContentFilterConfig{
			RequiredTopics: spec.Topics,
			Severity:       severityOr(spec.Severity, SeverityMedium),
		})

	case TypePIIRedactor:
		piiTypes := make([]PIIType, 0, len(spec.PIITypes))
		for _, s := range spec.PIITypes {
			t, err := ParsePIIType(s)
			if err != nil {
				return nil, err
			}
			piiTypes = append(piiTypes, t)
		}
		return NewPIIRedactorWithConfig(PIIRedactorConfig{
			Name:   spec.Name,
			Types:  piiTypes,
			Custom: spec.CustomPII,
		})

	case TypeInjection:
		return NewInjectionDetector(InjectionDetectorConfig{
			Name:           spec.Name,
			CaseSensitive:  spec.CaseSensitive,
			Languages:      spec.Languages,
			CustomPatterns: spec.Patterns,
		})

	case TypeShadowAI:
		return NewShadowAIDetector(ShadowAIConfig{
			Name:               spec.Name,
			WhitelistedDomains: spec.WhitelistedDomains,
		})

	case TypeSchema:
		doc := []byte(spec.Schema)
		if spec.SchemaFile != "" {
			readFile := deps.ReadFile
			if readFile == nil {
				readFile = os.ReadFile
			}
			data, err := readFile(spec.SchemaFile)
			if err != nil {
				return nil, fmt.Errorf("%w: read schema file %s: %v", ErrInvalidSchema, spec.SchemaFile, err)
			}
			doc = data
		}
		if len(doc) == 0 {
			return nil, fmt.Errorf("%w: schema requires schema or schema_file", ErrInvalidConfig)
		}
		return NewSchemaValidator(nameOr(spec.Name, "json_schema"), doc, spec.Severity)

	case TypeRateLimit:
		return NewRateLimiter(RateLimitConfig{
			Name:              spec.Name,
			RequestsPerSecond: spec.RequestsPerSecond,
			Burst:             spec.Burst,
			Severity:          spec.Severity,
		}, deps.KeyFunc)

	case TypeRedisRateLimit:
		return NewRedisRateLimiter(deps.Redis, RateLimitConfig{
			Name:     nameOr(spec.Name, "redis_rate_limit"),
			Limit:    spec.Limit,
			Window:   spec.Window,
			Severity: spec.Severity,
		}, deps.KeyFunc, deps.Logger)

	case TypeTokenLimit:
		counter := deps.TokenCounter
		if spec.Encoding != "" {
			counter = NewTiktokenCounter(spec.Encoding)
		}
		return NewTokenLimit(spec.Name, spec.MaxTokens, counter, spec.Severity)

	case "":
		return nil, fmt.Errorf("%w: type is empty", ErrInvalidConfig)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGuardrailType, spec.Type)
	}
}

// WithSeverity 把护栏所有失败的级别改为 severity，其余结果原样返回
func WithSeverity(g Guardrail, severity Severity) Guardrail {
	return &severityOverride{Guardrail: g, severity: severity}
}

type severityOverride struct {
	Guardrail
	severity Severity
}

func (s *severityOverride) Validate(ctx context.Context, content types.Content) Result {
	res := s.Guardrail.Validate(ctx, content)
	if res.IsFail() {
		res.Severity = s.severity
	}
	return res
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func severityOr(s, fallback Severity) Severity {
	if s != 0 {
		return s
	}
	return fallback
}
