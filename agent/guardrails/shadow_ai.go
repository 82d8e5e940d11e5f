package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/guardflow/types"
)

// Shadow AI indicator kinds.
const (
	ShadowAIKindDomain  = "domain"
	ShadowAIKindContent = "content"
	ShadowAIKindAPI     = "api"
)

// ShadowAIConfig configures shadow AI detection.
type ShadowAIConfig struct {
	Name               string   `json:"name,omitempty" yaml:"name,omitempty"`
	WhitelistedDomains []string `json:"whitelisted_domains,omitempty" yaml:"whitelisted_domains,omitempty"`
	// Kinds limits scanning to the given indicator kinds; empty means all.
	Kinds  []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Policy Policy   `json:"policy" yaml:"policy"`
}

// AIPattern is a compiled shadow AI indicator.
type AIPattern struct {
	Name        string
	Kind        string
	Pattern     *regexp.Regexp
	Severity    Severity
	Description string
}

// Detection is a single shadow AI indicator found in content.
type Detection struct {
	PatternName string   `json:"pattern_name"`
	Kind        string   `json:"kind"`
	Evidence    string   `json:"evidence"`
	Severity    Severity `json:"severity"`
}

var defaultAIPatterns = []struct {
	name, kind, expr string
	severity         Severity
	description      string
}{
	{"OpenAI API", ShadowAIKindDomain, `api\.openai\.com`, SeverityHigh, "OpenAI API access"},
	{"Claude API", ShadowAIKindDomain, `api\.anthropic\.com`, SeverityHigh, "Anthropic Claude API"},
	{"ChatGPT", ShadowAIKindDomain, `chat\.openai\.com|chatgpt\.com`, SeverityMedium, "ChatGPT web access"},
	{"Claude Web", ShadowAIKindDomain, `claude\.ai`, SeverityMedium, "Claude web access"},
	{"Gemini", ShadowAIKindDomain, `gemini\.google\.com|generativelanguage\.googleapis\.com`, SeverityHigh, "Google Gemini"},
	{"Copilot", ShadowAIKindDomain, `copilot\.microsoft\.com|copilot\.github\.com`, SeverityMedium, "Microsoft/GitHub Copilot"},
	{"Perplexity", ShadowAIKindDomain, `perplexity\.ai`, SeverityLow, "Perplexity AI"},
	{"Hugging Face", ShadowAIKindDomain, `api-inference\.huggingface\.co|huggingface\.co/api`, SeverityMedium, "Hugging Face API"},

	{"Anthropic Key", ShadowAIKindContent, `sk-ant-[a-zA-Z0-9_-]{32,}`, SeverityCritical, "Anthropic API key detected"},
	{"OpenAI Key", ShadowAIKindContent, `\bsk-(?:proj-)?[a-zA-Z0-9]{32,}`, SeverityCritical, "OpenAI API key detected"},

	{"Chat Completion", ShadowAIKindAPI, `/v1/chat/completions`, SeverityHigh, "Chat completion API call"},
	{"Embeddings", ShadowAIKindAPI, `/v1/embeddings`, SeverityMedium, "Embeddings API call"},
}

// ShadowAIDetector flags content that references unsanctioned AI services
// or leaks their credentials. Whitelisted domains are removed before scanning.
// Evidence is masked before it reaches the failure reason.
type ShadowAIDetector struct {
	Policy
	name      string
	patterns  []*AIPattern
	whitelist []*regexp.Regexp
}

// NewShadowAIDetector creates a shadow AI detector.
func NewShadowAIDetector(config ShadowAIConfig) (*ShadowAIDetector, error) {
	name := config.Name
	if name == "" {
		name = "shadow_ai"
	}

	kinds := make(map[string]bool)
	for _, k := range config.Kinds {
		switch k {
		case ShadowAIKindDomain, ShadowAIKindContent, ShadowAIKindAPI:
			kinds[k] = true
		default:
			return nil, fmt.Errorf("%w: unknown shadow AI kind %q", ErrInvalidConfig, k)
		}
	}

	d := &ShadowAIDetector{Policy: config.Policy, name: name}
	for _, w := range config.WhitelistedDomains {
		if w = strings.TrimSpace(w); w != "" {
			d.whitelist = append(d.whitelist, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(w)))
		}
	}
	for _, p := range defaultAIPatterns {
		if len(kinds) > 0 && !kinds[p.kind] {
			continue
		}
		expr := p.expr
		if p.kind != ShadowAIKindContent {
			expr = "(?i)" + expr
		}
		d.patterns = append(d.patterns, &AIPattern{
			Name:        p.name,
			Kind:        p.kind,
			Pattern:     regexp.MustCompile(expr),
			Severity:    p.severity,
			Description: p.description,
		})
	}
	return d, nil
}

// AddPattern appends a custom indicator. It must be called before the
// detector is shared between runs.
func (d *ShadowAIDetector) AddPattern(name, kind, expr string, severity Severity, description string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("%w: shadow AI pattern %q: %v", ErrInvalidPattern, name, err)
	}
	if !severity.Valid() {
		return fmt.Errorf("%w: shadow AI pattern %q has invalid severity", ErrInvalidConfig, name)
	}
	d.patterns = append(d.patterns, &AIPattern{
		Name:        name,
		Kind:        kind,
		Pattern:     re,
		Severity:    severity,
		Description: description,
	})
	return nil
}

// Name returns the guardrail name.
func (d *ShadowAIDetector) Name() string {
	return d.name
}

// Scan returns every indicator found in text.
func (d *ShadowAIDetector) Scan(text string) []Detection {
	text = d.stripWhitelisted(text)

	var detections []Detection
	for _, p := range d.patterns {
		for _, match := range p.Pattern.FindAllString(text, -1) {
			evidence := match
			if p.Kind == ShadowAIKindContent {
				evidence = maskSensitive(match)
			}
			detections = append(detections, Detection{
				PatternName: p.Name,
				Kind:        p.Kind,
				Evidence:    evidence,
				Severity:    p.Severity,
			})
		}
	}
	return detections
}

// Validate implements Guardrail.
func (d *ShadowAIDetector) Validate(_ context.Context, content types.Content) Result {
	detections := d.Scan(content.Text())
	if len(detections) == 0 {
		return Pass()
	}

	highest := SeverityLow
	parts := make([]string, 0, len(detections))
	for _, det := range detections {
		if det.Severity > highest {
			highest = det.Severity
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", det.PatternName, det.Evidence))
	}
	return Fail("Shadow AI usage detected: "+strings.Join(parts, ", "), highest)
}

func (d *ShadowAIDetector) stripWhitelisted(text string) string {
	for _, re := range d.whitelist {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return strings.Repeat(" ", len(m))
		})
	}
	return text
}

func maskSensitive(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
