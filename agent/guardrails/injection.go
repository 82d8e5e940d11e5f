package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/guardflow/types"
)

// 注入模式所属语言
const (
	InjectionLangEnglish   = "en"
	InjectionLangChinese   = "zh"
	InjectionLangUniversal = "universal"
	InjectionLangCustom    = "custom"
)

// InjectionPattern 一条已编译的注入模式
type InjectionPattern struct {
	Pattern     *regexp.Regexp
	Description string
	Severity    Severity
	Language    string
}

type injectionRule struct {
	expr        string
	description string
	severity    Severity
	language    string
	// folded 为 true 时按配置追加 (?i)
	folded bool
}

var injectionRules = []injectionRule{
	// 指令覆盖
	{`\bignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|guidelines?)`, "Attempt to ignore previous instructions", SeverityCritical, InjectionLangEnglish, true},
	{`\bdisregard\s+(all\s+)?(previous|prior|above|earlier|the\s+above)\s*(instructions?|prompts?|rules?|guidelines?)?`, "Attempt to disregard instructions", SeverityCritical, InjectionLangEnglish, true},
	{`\bforget\s+(everything|all|what)\s*(you\s+)?(know|learned|were\s+told)?`, "Attempt to make model forget context", SeverityCritical, InjectionLangEnglish, true},
	{`\b(new|different|updated|override)\s+instructions?\b`, "Attempt to inject new instructions", SeverityHigh, InjectionLangEnglish, true},
	// 角色操纵
	{`\byou\s+are\s+now\b`, "Attempt to change model role", SeverityHigh, InjectionLangEnglish, true},
	{`\bact\s+as\s+(if\s+you\s+are\s+)?(a|an|the)\b`, "Attempt to change model behavior", SeverityMedium, InjectionLangEnglish, true},
	{`\bpretend\s+(to\s+be|you\s+are)\b`, "Attempt to make model pretend", SeverityMedium, InjectionLangEnglish, true},
	{`\bdo\s+anything\s+now\b`, "DAN jailbreak attempt", SeverityCritical, InjectionLangEnglish, true},

	// 角色标记与越狱
	{`(?m)^\s*system\s*:`, "System role marker injection", SeverityCritical, InjectionLangUniversal, true},
	{`(?m)^\s*assistant\s*:`, "Assistant role marker injection", SeverityHigh, InjectionLangUniversal, true},
	{`<\s*/?\s*system\s*>`, "XML system tag injection", SeverityCritical, InjectionLangUniversal, true},
	{`\[\s*/?\s*INST\s*\]`, "Instruction tag injection", SeverityHigh, InjectionLangUniversal, true},
	{`\bjailbreak`, "Explicit jailbreak mention", SeverityCritical, InjectionLangUniversal, true},
	{`---+\s*(system|instructions?|rules?)\s*---+`, "Delimiter-based injection attempt", SeverityHigh, InjectionLangUniversal, true},
	{`===+\s*(system|instructions?|rules?)\s*===+`, "Delimiter-based injection attempt", SeverityHigh, InjectionLangUniversal, true},

	// 分隔符逃逸
	{`\]\s*\[\s*(system|inst)`, "Bracket delimiter escape", SeverityHigh, InjectionLangUniversal, true},
	{`>\s*<\s*(system|inst)`, "Angle bracket delimiter escape", SeverityHigh, InjectionLangUniversal, true},
	{`\}\s*\{\s*(system|inst)`, "Brace delimiter escape", SeverityHigh, InjectionLangUniversal, true},
	{`"""\s*(system|instructions)`, "Triple quote delimiter escape", SeverityHigh, InjectionLangUniversal, true},
	{"```\\s*(system|instructions)\\b", "Code block delimiter escape", SeverityHigh, InjectionLangUniversal, true},

	// 中文
	{`忽略(之前|上面|以上|先前|前面|所有)(的)?(指令|指示|规则|提示|要求)`, "尝试忽略之前的指令", SeverityCritical, InjectionLangChinese, false},
	{`忘(记|掉)(之前|上面|以上|所有|一切)(的)?(内容|指令|指示|规则)?`, "尝试让模型忘记上下文", SeverityCritical, InjectionLangChinese, false},
	{`不要(遵守|遵循|听从)(之前|上面|以上|任何)(的)?(指令|指示|规则)?`, "尝试让模型不遵守指令", SeverityCritical, InjectionLangChinese, false},
	{`(新的|不同的|更新的|覆盖)(指令|指示|规则)`, "尝试注入新指令", SeverityHigh, InjectionLangChinese, false},
	{`你现在是(一个|一名)?`, "尝试改变模型角色", SeverityHigh, InjectionLangChinese, false},
	{`从现在开始(你是|你要|你将)`, "尝试改变模型行为", SeverityHigh, InjectionLangChinese, false},
	{`(假装|扮演)(你是|成)`, "尝试让模型扮演角色", SeverityMedium, InjectionLangChinese, false},
}

// InjectionDetectorConfig 注入检测器配置
type InjectionDetectorConfig struct {
	// Name 护栏名称，默认 injection_detector
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// CaseSensitive 是否区分大小写（只影响英文与通用模式）
	CaseSensitive bool `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
	// Languages 启用的语言，为空则全部启用
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	// CustomPatterns 自定义模式，命中时使用 CustomSeverity
	CustomPatterns []string `json:"custom_patterns,omitempty" yaml:"custom_patterns,omitempty"`
	// CustomSeverity 自定义模式的级别，默认 High
	CustomSeverity Severity `json:"custom_severity,omitempty" yaml:"custom_severity,omitempty"`
	// MinSeverity 低于该级别的命中被忽略，默认 Low（全部报告）
	MinSeverity Severity `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
	// Policy 执行策略
	Policy Policy `json:"policy" yaml:"policy"`
}

// InjectionMatch 注入命中
type InjectionMatch struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Language    string   `json:"language"`
	Position    int      `json:"position"`
	MatchedText string   `json:"matched_text"`
}

// InjectionDetector 提示注入检测护栏
// 命中任意模式即失败，失败级别取所有命中中的最高级别，
// 因此 "ignore previous instructions" 这类 Critical 模式会中断整次执行。
type InjectionDetector struct {
	Policy
	name        string
	patterns    []*InjectionPattern
	minSeverity Severity
}

// NewInjectionDetector 创建注入检测器，自定义模式无法编译时返回 ErrInvalidPattern
func NewInjectionDetector(config InjectionDetectorConfig) (*InjectionDetector, error) {
	name := config.Name
	if name == "" {
		name = "injection_detector"
	}
	minSeverity := config.MinSeverity
	if minSeverity == 0 {
		minSeverity = SeverityLow
	}
	customSeverity := config.CustomSeverity
	if customSeverity == 0 {
		customSeverity = SeverityHigh
	}
	if !minSeverity.Valid() || !customSeverity.Valid() {
		return nil, fmt.Errorf("%w: injection detector %q has invalid severity", ErrInvalidConfig, name)
	}

	langs := make(map[string]bool)
	for _, l := range config.Languages {
		langs[strings.ToLower(l)] = true
	}
	if len(langs) == 0 {
		langs[InjectionLangEnglish] = true
		langs[InjectionLangChinese] = true
		langs[InjectionLangUniversal] = true
	}

	flags := ""
	if !config.CaseSensitive {
		flags = "(?i)"
	}

	d := &InjectionDetector{Policy: config.Policy, name: name, minSeverity: minSeverity}
	for _, rule := range injectionRules {
		if !langs[rule.language] {
			continue
		}
		expr := rule.expr
		if rule.folded {
			expr = flags + expr
		}
		d.patterns = append(d.patterns, &InjectionPattern{
			Pattern:     regexp.MustCompile(expr),
			Description: rule.description,
			Severity:    rule.severity,
			Language:    rule.language,
		})
	}

	for _, p := range config.CustomPatterns {
		re, err := regexp.Compile(flags + p)
		if err != nil {
			return nil, fmt.Errorf("%w: injection pattern %q: %v", ErrInvalidPattern, p, err)
		}
		d.patterns = append(d.patterns, &InjectionPattern{
			Pattern:     re,
			Description: "Custom injection pattern",
			Severity:    customSeverity,
			Language:    InjectionLangCustom,
		})
	}

	return d, nil
}

// Name 返回护栏名称
func (d *InjectionDetector) Name() string {
	return d.name
}

// Detect 返回文本中全部命中，按模式顺序
func (d *InjectionDetector) Detect(text string) []InjectionMatch {
	var matches []InjectionMatch
	for _, p := range d.patterns {
		if p.Severity < d.minSeverity {
			continue
		}
		for _, loc := range p.Pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, InjectionMatch{
				Description: p.Description,
				Severity:    p.Severity,
				Language:    p.Language,
				Position:    loc[0],
				MatchedText: text[loc[0]:loc[1]],
			})
		}
	}
	return matches
}

// Validate 实现 Guardrail
func (d *InjectionDetector) Validate(_ context.Context, content types.Content) Result {
	matches := d.Detect(content.Text())
	if len(matches) == 0 {
		return Pass()
	}

	highest := SeverityLow
	for _, m := range matches {
		if m.Severity > highest {
			highest = m.Severity
		}
	}
	return Fail(formatInjectionReason(matches), highest)
}

func formatInjectionReason(matches []InjectionMatch) string {
	var descriptions []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m.Description] {
			seen[m.Description] = true
			descriptions = append(descriptions, m.Description)
		}
	}
	if len(descriptions) == 1 {
		return "Prompt injection detected: " + descriptions[0]
	}
	return fmt.Sprintf("Multiple prompt injection patterns detected: %s", strings.Join(descriptions, "; "))
}

// IsolateWithDelimiters 用安全分隔符包裹用户输入，供调用方拼接提示词
func IsolateWithDelimiters(text string) string {
	const delimiter = "<<<USER_INPUT>>>"
	return delimiter + "\n" + text + "\n" + delimiter
}
