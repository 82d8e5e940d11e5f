package auditstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/guardflow/agent/guardrails"
	"github.com/BaSui01/guardflow/types"
)

func setupStore(t *testing.T) *GormAuditLogger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := New(db, zap.NewNop())
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *GormAuditLogger) {
	t.Helper()
	ctx := context.Background()
	entries := []*guardrails.AuditLogEntry{
		{ID: "e0", Timestamp: base, RunID: "run-a", Stage: "input", EventType: guardrails.AuditEventGuardrailFailed,
			GuardrailName: "max_length", Reason: "Content exceeds maximum length (27 > 10)", Severity: guardrails.SeverityMedium},
		{ID: "e1", Timestamp: base.Add(time.Minute), RunID: "run-a", Stage: "input", EventType: guardrails.AuditEventContentTransformed,
			GuardrailName: "pii_redactor", Reason: "Redacted PII types: Email"},
		{ID: "e2", Timestamp: base.Add(2 * time.Minute), RunID: "run-b", Stage: "output", EventType: guardrails.AuditEventRunAborted,
			GuardrailName: "harmful_content", Severity: guardrails.SeverityCritical, TenantID: "acme", UserID: "u1",
			Metadata: map[string]any{"attempt": float64(2)}},
	}
	for _, e := range entries {
		require.NoError(t, store.Log(ctx, e))
	}
}

func TestGormAuditLogger_LogAndQuery(t *testing.T) {
	store := setupStore(t)
	seed(t, store)
	ctx := context.Background()

	all, err := store.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e0", "e1", "e2"}, []string{all[0].ID, all[1].ID, all[2].ID})

	aborted := all[2]
	assert.Equal(t, guardrails.AuditEventRunAborted, aborted.EventType)
	assert.Equal(t, guardrails.SeverityCritical, aborted.Severity)
	assert.Equal(t, "acme", aborted.TenantID)
	assert.Equal(t, map[string]any{"attempt": float64(2)}, aborted.Metadata)
	assert.True(t, base.Add(2*time.Minute).Equal(aborted.Timestamp))
}

func TestGormAuditLogger_Filters(t *testing.T) {
	store := setupStore(t)
	seed(t, store)
	ctx := context.Background()

	start, end := base.Add(30*time.Second), base.Add(2*time.Minute)
	tests := []struct {
		name   string
		filter *guardrails.AuditLogFilter
		want   []string
	}{
		{"event type", &guardrails.AuditLogFilter{EventTypes: []guardrails.AuditEventType{guardrails.AuditEventGuardrailFailed}}, []string{"e0"}},
		{"guardrail", &guardrails.AuditLogFilter{GuardrailNames: []string{"pii_redactor", "harmful_content"}}, []string{"e1", "e2"}},
		{"stage", &guardrails.AuditLogFilter{Stages: []string{"input"}}, []string{"e0", "e1"}},
		{"run", &guardrails.AuditLogFilter{RunID: "run-b"}, []string{"e2"}},
		{"time range", &guardrails.AuditLogFilter{StartTime: &start, EndTime: &end}, []string{"e1", "e2"}},
		{"page", &guardrails.AuditLogFilter{Limit: 1, Offset: 1}, []string{"e1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	n, err := store.Count(ctx, &guardrails.AuditLogFilter{Stages: []string{"input"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGormAuditLogger_FillsIDAndTimestamp(t *testing.T) {
	store := setupStore(t)
	store.now = func() time.Time { return base }

	entry := &guardrails.AuditLogEntry{EventType: guardrails.AuditEventGuardrailFailed, GuardrailName: "g"}
	require.NoError(t, store.Log(context.Background(), entry))

	assert.Len(t, entry.ID, 36)
	assert.Equal(t, base, entry.Timestamp)

	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Log(context.Background(), nil))
}

func TestGormAuditLogger_Prune(t *testing.T) {
	store := setupStore(t)
	seed(t, store)

	deleted, err := store.Prune(context.Background(), base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	rest, err := store.Query(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "e2", rest[0].ID)
}

func TestGormAuditLogger_WithExecutor(t *testing.T) {
	store := setupStore(t)

	redactor := guardrails.NewPIIRedactor()
	limit := guardrails.MaxLength(10)
	exec := guardrails.NewExecutor(guardrails.WithStage("input"), guardrails.WithAuditLogger(store))

	content := types.NewTextContent(types.RoleUser, "Contact me at test@test.com")
	_, err := exec.Run(context.Background(), guardrails.NewSet(limit, redactor), content)
	require.NoError(t, err)

	n, err := store.Count(context.Background(), &guardrails.AuditLogFilter{Stages: []string{"input"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	failed, err := store.Query(context.Background(), &guardrails.AuditLogFilter{
		EventTypes: []guardrails.AuditEventType{guardrails.AuditEventGuardrailFailed},
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "max_length", failed[0].GuardrailName)
	assert.Equal(t, guardrails.SeverityMedium, failed[0].Severity)
	assert.Equal(t, guardrails.HashContent(content.Text()), failed[0].ContentHash)

	transformed, err := store.Query(context.Background(), &guardrails.AuditLogFilter{
		EventTypes: []guardrails.AuditEventType{guardrails.AuditEventContentTransformed},
	})
	require.NoError(t, err)
	require.Len(t, transformed, 1)
	assert.Equal(t, "pii_redactor", transformed[0].GuardrailName)
	assert.Equal(t, failed[0].RunID, transformed[0].RunID)
}

func setupMock(t *testing.T) (sqlmock.Sqlmock, *GormAuditLogger) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return mock, New(db, zap.NewNop())
}

func TestGormAuditLogger_Postgres_Count(t *testing.T) {
	mock, store := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "guardrail_audit_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormAuditLogger_Postgres_InsertError(t *testing.T) {
	mock, store := setupMock(t)
	boom := errors.New("connection reset by peer")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "guardrail_audit_logs"`)).WillReturnError(boom)
	mock.ExpectRollback()

	err := store.Log(context.Background(), &guardrails.AuditLogEntry{ID: "x", GuardrailName: "g"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to insert audit entry x")
	assert.NoError(t, mock.ExpectationsWereMet())
}
