// Package auditstore persists guardrail audit events with GORM so they can be
// queried after the process exits. Any dialect opened by internal/database
// works; the table is created by AutoMigrate.
package auditstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/guardflow/agent/guardrails"
)

// TableName is the table that holds audit records.
const TableName = "guardrail_audit_logs"

// Record is the row shape of an audit event. Content is stored as a hash only.
type Record struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Timestamp     time.Time `gorm:"index;not null"`
	RunID         string    `gorm:"size:36;index"`
	Stage         string    `gorm:"size:64;index"`
	EventType     string    `gorm:"size:32;index"`
	GuardrailName string    `gorm:"size:128;index"`
	Reason        string    `gorm:"type:text"`
	Severity      int
	ContentHash   string `gorm:"size:64"`
	TenantID      string `gorm:"size:128"`
	UserID        string `gorm:"size:128"`
	Metadata      string `gorm:"type:text"`
}

// TableName implements gorm's tabler.
func (Record) TableName() string { return TableName }

// GormAuditLogger implements guardrails.AuditLogger on top of a relational DB.
type GormAuditLogger struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ guardrails.AuditLogger = (*GormAuditLogger)(nil)

// New returns a logger that writes to db. Call AutoMigrate once before use.
func New(db *gorm.DB, logger *zap.Logger) *GormAuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormAuditLogger{
		db:     db,
		logger: logger.With(zap.String("component", "audit_store")),
		now:    time.Now,
	}
}

// AutoMigrate creates or updates the audit table.
func (l *GormAuditLogger) AutoMigrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", TableName, err)
	}
	return nil
}

// Log inserts one entry. Missing IDs and timestamps are filled in and written
// back to entry.
func (l *GormAuditLogger) Log(ctx context.Context, entry *guardrails.AuditLogEntry) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	rec, err := toRecord(entry)
	if err != nil {
		return err
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// Query returns matching entries oldest first.
func (l *GormAuditLogger) Query(ctx context.Context, filter *guardrails.AuditLogFilter) ([]*guardrails.AuditLogEntry, error) {
	q := applyFilter(l.db.WithContext(ctx).Model(&Record{}), filter).Order("timestamp ASC").Order("id ASC")
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}

	var records []Record
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	entries := make([]*guardrails.AuditLogEntry, 0, len(records))
	for i := range records {
		entry, err := fromRecord(&records[i])
		if err != nil {
			l.logger.Warn("skipping malformed audit record", zap.String("id", records[i].ID), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Count returns the number of matching entries, ignoring Limit and Offset.
func (l *GormAuditLogger) Count(ctx context.Context, filter *guardrails.AuditLogFilter) (int, error) {
	var n int64
	if err := applyFilter(l.db.WithContext(ctx).Model(&Record{}), filter).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return int(n), nil
}

// Prune deletes entries older than before and returns how many were removed.
func (l *GormAuditLogger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("timestamp < ?", before.UTC()).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.logger.Info("pruned audit entries", zap.Int64("deleted", res.RowsAffected), zap.Time("before", before))
	}
	return res.RowsAffected, nil
}

func applyFilter(q *gorm.DB, f *guardrails.AuditLogFilter) *gorm.DB {
	if f == nil {
		return q
	}
	if f.StartTime != nil {
		q = q.Where("timestamp >= ?", f.StartTime.UTC())
	}
	if f.EndTime != nil {
		q = q.Where("timestamp <= ?", f.EndTime.UTC())
	}
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	if len(f.EventTypes) > 0 {
		events := make([]string, 0, len(f.EventTypes))
		for _, e := range f.EventTypes {
			events = append(events, string(e))
		}
		q = q.Where("event_type IN ?", events)
	}
	if len(f.GuardrailNames) > 0 {
		q = q.Where("guardrail_name IN ?", f.GuardrailNames)
	}
	if len(f.Stages) > 0 {
		q = q.Where("stage IN ?", f.Stages)
	}
	return q
}

func toRecord(e *guardrails.AuditLogEntry) (Record, error) {
	rec := Record{
		ID:            e.ID,
		Timestamp:     e.Timestamp.UTC(),
		RunID:         e.RunID,
		Stage:         e.Stage,
		EventType:     string(e.EventType),
		GuardrailName: e.GuardrailName,
		Reason:        e.Reason,
		Severity:      int(e.Severity),
		ContentHash:   e.ContentHash,
		TenantID:      e.TenantID,
		UserID:        e.UserID,
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return Record{}, fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		rec.Metadata = string(raw)
	}
	return rec, nil
}

func fromRecord(r *Record) (*guardrails.AuditLogEntry, error) {
	e := &guardrails.AuditLogEntry{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		RunID:         r.RunID,
		Stage:         r.Stage,
		EventType:     guardrails.AuditEventType(r.EventType),
		GuardrailName: r.GuardrailName,
		Reason:        r.Reason,
		Severity:      guardrails.Severity(r.Severity),
		ContentHash:   r.ContentHash,
		TenantID:      r.TenantID,
		UserID:        r.UserID,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
			return nil, err
		}
	}
	return e, nil
}
