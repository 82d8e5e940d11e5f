package guardrails

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/guardflow/types"
)

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	CountTokens(text string) (int, error)
	Name() string
}

// TiktokenCounter counts tokens with a tiktoken encoding. The encoding is
// loaded lazily on first use and may download BPE data.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4.1":       "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktokenCounter returns a counter for the given encoding name
// (e.g. "cl100k_base") or model name (e.g. "gpt-4o"). Unknown names fall
// back to cl100k_base.
func NewTiktokenCounter(encodingOrModel string) *TiktokenCounter {
	encoding := "cl100k_base"
	switch {
	case strings.HasSuffix(encodingOrModel, "_base"):
		encoding = encodingOrModel
	default:
		if enc, ok := modelEncodings[encodingOrModel]; ok {
			encoding = enc
		} else {
			longest := 0
			for model, enc := range modelEncodings {
				if strings.HasPrefix(encodingOrModel, model) && len(model) > longest {
					encoding, longest = enc, len(model)
				}
			}
		}
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens implements TokenCounter.
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Name implements TokenCounter.
func (t *TiktokenCounter) Name() string {
	return "tiktoken/" + t.encoding
}

// EstimateCounter approximates token counts from character classes:
// CJK runes at ~1.5 per token, everything else at ~4 per token.
type EstimateCounter struct{}

// CountTokens implements TokenCounter.
func (EstimateCounter) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

// Name implements TokenCounter.
func (EstimateCounter) Name() string {
	return "estimator"
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// TokenLimit fails content whose text exceeds a token budget.
type TokenLimit struct {
	Policy
	name      string
	maxTokens int
	counter   TokenCounter
	severity  Severity
}

// NewTokenLimit creates a token budget guardrail. A nil counter uses
// EstimateCounter.
func NewTokenLimit(name string, maxTokens int, counter TokenCounter, severity Severity) (*TokenLimit, error) {
	if name == "" {
		name = "token_limit"
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: token limit %q requires max_tokens > 0", ErrInvalidConfig, name)
	}
	if severity == 0 {
		severity = SeverityMedium
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: token limit %q has invalid severity", ErrInvalidConfig, name)
	}
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &TokenLimit{name: name, maxTokens: maxTokens, counter: counter, severity: severity}, nil
}

// Name returns the guardrail name.
func (l *TokenLimit) Name() string {
	return l.name
}

// Validate implements Guardrail. A counter error is reported as a failure
// with the configured severity.
func (l *TokenLimit) Validate(_ context.Context, content types.Content) Result {
	n, err := l.counter.CountTokens(content.Text())
	if err != nil {
		return Fail(fmt.Sprintf("Token counting failed (%s): %v", l.counter.Name(), err), l.severity)
	}
	if n > l.maxTokens {
		return Fail(fmt.Sprintf("Content exceeds token limit (%d > %d)", n, l.maxTokens), l.severity)
	}
	return Pass()
}
