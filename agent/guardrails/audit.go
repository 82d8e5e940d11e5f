package guardrails

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// AuditEventType 审计事件类型
type AuditEventType string

const (
	// AuditEventGuardrailFailed 护栏记录了一次失败
	AuditEventGuardrailFailed AuditEventType = "guardrail_failed"
	// AuditEventContentTransformed 护栏改写了内容
	AuditEventContentTransformed AuditEventType = "content_transformed"
	// AuditEventRunAborted Critical 失败中断了整次执行
	AuditEventRunAborted AuditEventType = "run_aborted"
)

// AuditLogEntry 审计日志条目
// 只保存内容哈希，不保存原始内容。
type AuditLogEntry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	RunID         string         `json:"run_id"`
	Stage         string         `json:"stage"`
	EventType     AuditEventType `json:"event_type"`
	GuardrailName string         `json:"guardrail_name"`
	Reason        string         `json:"reason,omitempty"`
	Severity      Severity       `json:"severity,omitempty"`
	ContentHash   string         `json:"content_hash"`
	TenantID      string         `json:"tenant_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AuditLogger 护栏审计日志记录器接口
type AuditLogger interface {
	// Log 记录审计日志
	Log(ctx context.Context, entry *AuditLogEntry) error
	// Query 查询审计日志
	Query(ctx context.Context, filter *AuditLogFilter) ([]*AuditLogEntry, error)
	// Count 统计审计日志数量
	Count(ctx context.Context, filter *AuditLogFilter) (int, error)
}

// AuditLogFilter 审计日志查询过滤器
type AuditLogFilter struct {
	StartTime      *time.Time
	EndTime        *time.Time
	EventTypes     []AuditEventType
	GuardrailNames []string
	Stages         []string
	RunID          string
	Limit          int
	Offset         int
}

// Matches 判断条目是否满足过滤条件（不考虑分页）
func (f *AuditLogFilter) Matches(entry *AuditLogEntry) bool {
	if f == nil {
		return true
	}
	if f.StartTime != nil && entry.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && entry.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.RunID != "" && entry.RunID != f.RunID {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, entry.EventType) {
		return false
	}
	if len(f.GuardrailNames) > 0 && !contains(f.GuardrailNames, entry.GuardrailName) {
		return false
	}
	if len(f.Stages) > 0 && !contains(f.Stages, entry.Stage) {
		return false
	}
	return true
}

// MemoryAuditLogger 内存审计日志记录器，容量满时丢弃最旧条目
// 用于测试和开发环境
type MemoryAuditLogger struct {
	entries []*AuditLogEntry
	maxSize int
	mu      sync.RWMutex
}

// NewMemoryAuditLogger 创建内存审计日志记录器
func NewMemoryAuditLogger(maxSize int) *MemoryAuditLogger {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryAuditLogger{
		entries: make([]*AuditLogEntry, 0),
		maxSize: maxSize,
	}
}

// Log 记录审计日志
func (l *MemoryAuditLogger) Log(ctx context.Context, entry *AuditLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.maxSize {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Query 查询审计日志
func (l *MemoryAuditLogger) Query(ctx context.Context, filter *AuditLogFilter) ([]*AuditLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*AuditLogEntry, 0)
	for _, entry := range l.entries {
		if filter.Matches(entry) {
			result = append(result, entry)
		}
	}

	if filter != nil {
		if filter.Offset >= len(result) && filter.Offset > 0 {
			return []*AuditLogEntry{}, nil
		}
		if filter.Offset > 0 {
			result = result[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(result) {
			result = result[:filter.Limit]
		}
	}
	return result, nil
}

// Count 统计审计日志数量
func (l *MemoryAuditLogger) Count(ctx context.Context, filter *AuditLogFilter) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, entry := range l.entries {
		if filter.Matches(entry) {
			count++
		}
	}
	return count, nil
}

// Entries 返回所有条目的副本（用于测试）
func (l *MemoryAuditLogger) Entries() []*AuditLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*AuditLogEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Clear 清空所有日志条目
func (l *MemoryAuditLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]*AuditLogEntry, 0)
}

// HashContent 计算内容的 SHA256 哈希
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
