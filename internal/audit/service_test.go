package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptvault/internal/models"
)

func newMockService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return NewService(mock), mock
}

func TestLog(t *testing.T) {
	svc, mock := newMockService(t)
	user, versionID := uuid.New(), uuid.New()

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(pgxmock.AnyArg(), user, "version.created", "prompt_version", &versionID, []byte(`{"version_number":"1.1"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := svc.Log(context.Background(), LogEntry{
		UserID:       user,
		Action:       "version.created",
		ResourceType: "prompt_version",
		ResourceID:   &versionID,
		Details:      map[string]any{"version_number": "1.1"},
	})
	require.NoError(t, err)
}

func TestLog_InsertError(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectExec(`INSERT INTO audit_logs`).WillReturnError(errors.New("connection reset"))

	err := svc.Log(context.Background(), LogEntry{UserID: uuid.New(), Action: "prompt.created"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit log")
}

func TestLogLLMUsage_DefaultsMetadata(t *testing.T) {
	svc, mock := newMockService(t)
	user := uuid.New()

	mock.ExpectExec(`INSERT INTO llm_usage_logs`).
		WithArgs(pgxmock.AnyArg(), user, (*uuid.UUID)(nil), (*uuid.UUID)(nil), "openai", "gpt-4o-mini",
			10, 2, 12, 0.0001, int64(350), json.RawMessage(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := svc.LogLLMUsage(context.Background(), models.LLMUsageLog{
		UserID: user, Provider: "openai", Model: "gpt-4o-mini",
		InputTokens: 10, OutputTokens: 2, TotalTokens: 12, CostUSD: 0.0001, LatencyMs: 350,
	})
	require.NoError(t, err)
}

func TestGetAuditLogs_Filters(t *testing.T) {
	svc, mock := newMockService(t)
	user, resource := uuid.New(), uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	created := start.Add(time.Hour)

	mock.ExpectQuery(`FROM audit_logs WHERE user_id = \$1 AND action = \$2 AND created_at >= \$3 ORDER BY created_at DESC LIMIT \$4 OFFSET \$5`).
		WithArgs(user, "version.deleted", start, 50, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "action", "resource_type", "resource_id", "details", "created_at"}).
			AddRow(uuid.New(), user, "version.deleted", "prompt_version", &resource, json.RawMessage(`{}`), created))

	logs, err := svc.GetAuditLogs(context.Background(), user, Query{
		Action:    "version.deleted",
		StartDate: &start,
		Limit:     500,
		Offset:    10,
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, resource, *logs[0].ResourceID)
	assert.Equal(t, created, logs[0].CreatedAt)
}

func TestGetUsageSummary(t *testing.T) {
	svc, mock := newMockService(t)
	user := uuid.New()

	mock.ExpectQuery(`FROM llm_usage_logs WHERE user_id = \$1 GROUP BY provider, model`).
		WithArgs(user).
		WillReturnRows(pgxmock.NewRows([]string{"provider", "model", "total_calls", "total_tokens", "total_cost_usd"}).
			AddRow("anthropic", "claude-sonnet-4-20250514", 3, 900, 0.02).
			AddRow("openai", "gpt-4o-mini", 5, 400, 0.001))

	summary, err := svc.GetUsageSummary(context.Background(), user, nil, nil)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "anthropic", summary[0].Provider)
	assert.Equal(t, 5, summary[1].TotalCalls)
}
