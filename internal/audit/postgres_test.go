package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-biomarker-engine/internal/domain"
)

func newMockLog(t *testing.T) (*PostgresLog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, err := NewPostgresLog(db)
	require.NoError(t, err)
	return log, mock
}

func resolvedFlag() *domain.BiomarkerFlag {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.BiomarkerFlag{
		ID:                   "8c2f6a1e-0000-0000-0000-000000000001",
		UserID:               "u1",
		BiomarkerKey:         "ferritin",
		TriggeringSymptomKey: "fatigue",
		Reason:               "Symptom correlation: Fatigue",
		Status:               domain.FlagResolved,
		CreatedAt:            at.Add(-time.Hour),
		ResolvedAt:           &at,
		ResolvedBy:           "reviewer-1",
	}
}

func TestPostgresLog_RecordResolution(t *testing.T) {
	log, mock := newMockLog(t)
	flag := resolvedFlag()

	mock.ExpectExec("INSERT INTO resolution_audit").
		WithArgs(flag.ID, flag.UserID, flag.BiomarkerKey, flag.TriggeringSymptomKey, flag.ResolvedBy, *flag.ResolvedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := log.RecordResolution(context.Background(), flag)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_RecordResolution_RejectsUnresolvedFlag(t *testing.T) {
	log, _ := newMockLog(t)
	flag := resolvedFlag()
	flag.ResolvedAt = nil

	err := log.RecordResolution(context.Background(), flag)
	assert.Error(t, err)

	err = log.RecordResolution(context.Background(), nil)
	assert.Error(t, err)
}

func TestPostgresLog_List(t *testing.T) {
	log, mock := newMockLog(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "flag_id", "user_id", "biomarker_key", "triggering_symptom_key",
		"resolved_by", "resolved_at", "created_at",
	}).
		AddRow(2, "flag-b", "u1", "tsh", "fatigue", "reviewer-2", at.Add(time.Hour), at.Add(time.Hour)).
		AddRow(1, "flag-a", "u1", "ferritin", "fatigue", "reviewer-1", at, at)

	mock.ExpectQuery("SELECT (.+) FROM resolution_audit").
		WithArgs("u1", 10, 0).
		WillReturnRows(rows)

	result, err := log.List(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "flag-b", result[0].FlagID)
	assert.Equal(t, "reviewer-2", result[0].ResolvedBy)
	assert.Equal(t, "flag-a", result[1].FlagID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_Count(t *testing.T) {
	log, mock := newMockLog(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM resolution_audit").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := log.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_ExportJSON(t *testing.T) {
	log, mock := newMockLog(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "flag_id", "user_id", "biomarker_key", "triggering_symptom_key",
		"resolved_by", "resolved_at", "created_at",
	}).AddRow(1, "flag-a", "u1", "ferritin", "fatigue", "reviewer-1", at, at)

	mock.ExpectQuery("SELECT (.+) FROM resolution_audit").
		WithArgs("u1", maxExportLimit, 0).
		WillReturnRows(rows)

	var buf bytes.Buffer
	err := log.ExportJSON(context.Background(), "u1", &buf)
	require.NoError(t, err)

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, "u1", export.UserID)
	assert.Equal(t, 1, export.Count)
	require.Len(t, export.Resolutions, 1)
	assert.Equal(t, "flag-a", export.Resolutions[0].FlagID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
