package guardrails

import (
	"fmt"
	"strings"
)

// Severity 护栏失败的严重级别，全序：Low < Medium < High < Critical
type Severity int

// Severity 常量定义
const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// ParseSeverity 解析严重级别字符串（大小写不敏感）
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("%w: unknown severity %q", ErrInvalidConfig, s)
	}
}

// String 返回小写名称
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid 是否为已定义的级别
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// AtLeast 是否不低于 other
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// MarshalText 实现 encoding.TextMarshaler，用于 JSON/YAML
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// displayName 用于人类可读消息："Low"、"Critical"
func (s Severity) displayName() string {
	name := s.String()
	if !s.Valid() {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
