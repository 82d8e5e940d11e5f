package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/guardflow/types"
)

// ContentFilterConfig 内容过滤器配置
type ContentFilterConfig struct {
	// BlockedKeywords 禁止的关键词（大小写不敏感，整词匹配）
	BlockedKeywords []string `json:"blocked_keywords,omitempty" yaml:"blocked_keywords,omitempty"`
	// BlockedPatterns 禁止的正则模式
	BlockedPatterns []string `json:"blocked_patterns,omitempty" yaml:"blocked_patterns,omitempty"`
	// RequiredTopics 主题关键词，至少出现一个（大小写不敏感，子串匹配）
	RequiredTopics []string `json:"required_topics,omitempty" yaml:"required_topics,omitempty"`
	// MaxLength 最大字符数，0 表示不限制
	MaxLength int `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	// MinLength 最小字符数，0 表示不限制
	MinLength int `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	// Severity 失败级别，默认 High
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	// Policy 执行策略
	Policy Policy `json:"policy" yaml:"policy"`
}

// ContentFilter 内容过滤护栏
// 依次检查：禁止关键词、禁止模式、主题、最大长度、最小长度，命中第一项即失败。
// 长度按 Content.Text() 的字符（rune）数计算，支持中文。
type ContentFilter struct {
	Policy
	name     string
	config   ContentFilterConfig
	keywords []*regexp.Regexp
	patterns []*regexp.Regexp
}

// NewContentFilter 创建内容过滤器，禁止模式无法编译时返回 ErrInvalidPattern
func NewContentFilter(name string, config ContentFilterConfig) (*ContentFilter, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: content filter name is empty", ErrInvalidConfig)
	}
	if config.Severity == 0 {
		config.Severity = SeverityHigh
	}
	if !config.Severity.Valid() {
		return nil, fmt.Errorf("%w: content filter %q has invalid severity %d", ErrInvalidConfig, name, int(config.Severity))
	}
	if config.MaxLength < 0 || config.MinLength < 0 {
		return nil, fmt.Errorf("%w: content filter %q has negative length limit", ErrInvalidConfig, name)
	}

	f := &ContentFilter{
		Policy: config.Policy,
		name:   name,
		config: config,
	}

	for _, kw := range config.BlockedKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		f.keywords = append(f.keywords, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
	}

	for _, p := range config.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: content filter %q pattern %q: %v", ErrInvalidPattern, name, p, err)
		}
		f.patterns = append(f.patterns, re)
	}

	return f, nil
}

// mustContentFilter 仅用于内置预设，其配置在编译期即已确定合法
func mustContentFilter(name string, config ContentFilterConfig) *ContentFilter {
	f, err := NewContentFilter(name, config)
	if err != nil {
		panic(err)
	}
	return f
}

// harmfulKeywords 常见有害内容关键词
var harmfulKeywords = []string{
	"kill", "murder", "bomb", "terrorist",
	"hack", "exploit", "malware", "ransomware",
}

// HarmfulContent 拦截常见有害内容，Critical 级别
func HarmfulContent() *ContentFilter {
	return mustContentFilter("harmful_content", ContentFilterConfig{
		BlockedKeywords: harmfulKeywords,
		Severity:        SeverityCritical,
	})
}

// OnTopic 要求内容至少包含一个主题关键词，Medium 级别
func OnTopic(topic string, keywords []string) *ContentFilter {
	return mustContentFilter("on_topic_"+topic, ContentFilterConfig{
		RequiredTopics: keywords,
		Severity:       SeverityMedium,
	})
}

// MaxLength 限制最大字符数，Medium 级别
func MaxLength(n int) *ContentFilter {
	if n < 0 {
		n = 0
	}
	return mustContentFilter("max_length", ContentFilterConfig{
		MaxLength: n,
		Severity:  SeverityMedium,
	})
}

// BlockedKeywords 拦截指定关键词，High 级别
func BlockedKeywords(keywords []string) *ContentFilter {
	return mustContentFilter("blocked_keywords", ContentFilterConfig{
		BlockedKeywords: keywords,
		Severity:        SeverityHigh,
	})
}

// Name 返回护栏名称
func (f *ContentFilter) Name() string {
	return f.name
}

// Config 返回配置副本
func (f *ContentFilter) Config() ContentFilterConfig {
	return f.config
}

// Validate 实现 Guardrail
func (f *ContentFilter) Validate(_ context.Context, content types.Content) Result {
	text := content.Text()
	sev := f.config.Severity

	if matched := countMatches(f.keywords, text) + countMatches(f.patterns, text); matched > 0 {
		return Fail(fmt.Sprintf("Content contains blocked keywords (matched %d patterns)", matched), sev)
	}

	if len(f.config.RequiredTopics) > 0 && !containsTopic(text, f.config.RequiredTopics) {
		return Fail(fmt.Sprintf("Content is off-topic. Expected topics: %s", formatList(f.config.RequiredTopics)), sev)
	}

	length := utf8.RuneCountInString(text)
	if f.config.MaxLength > 0 && length > f.config.MaxLength {
		return Fail(fmt.Sprintf("Content exceeds maximum length (%d > %d)", length, f.config.MaxLength), sev)
	}
	if f.config.MinLength > 0 && length < f.config.MinLength {
		return Fail(fmt.Sprintf("Content below minimum length (%d < %d)", length, f.config.MinLength), sev)
	}

	return Pass()
}

func countMatches(res []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range res {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func containsTopic(text string, topics []string) bool {
	lower := strings.ToLower(text)
	for _, t := range topics {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// formatList 格式化为 ["a", "b"]
func formatList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
