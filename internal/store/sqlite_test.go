package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-biomarker-engine/internal/domain"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testRecord(userID, key string) domain.SymptomRecord {
	return domain.SymptomRecord{
		UserID:            userID,
		SymptomKey:        key,
		DisplayName:       "Fatigue",
		Category:          "energy",
		Severity:          domain.SeverityModerate,
		Frequency:         "daily",
		SourceAssessments: []string{"wellness"},
		FirstReportedAt:   testTime,
		LastReportedAt:    testTime,
		OccurrenceCount:   1,
	}
}

func testFlag(userID, biomarker, symptom string) domain.BiomarkerFlag {
	return domain.BiomarkerFlag{
		ID:                   uuid.NewString(),
		UserID:               userID,
		BiomarkerKey:         biomarker,
		TriggeringSymptomKey: symptom,
		Reason:               "Symptom correlation: Fatigue",
		Status:               domain.FlagActive,
		CreatedAt:            testTime,
	}
}

func TestSQLiteStore_ApplyMerge_RoundTrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	rec := testRecord("u1", "fatigue")
	entry := domain.HistoryEntry{
		UserID:              "u1",
		Timestamp:           testTime,
		ReportedSymptomKeys: []string{"fatigue"},
		TotalActiveAfter:    1,
	}
	require.NoError(t, s.ApplyMerge(ctx, "u1", []domain.SymptomRecord{rec}, entry))

	records, err := s.GetRecords(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, rec.SymptomKey, got.SymptomKey)
	assert.Equal(t, rec.Severity, got.Severity)
	assert.Equal(t, rec.SourceAssessments, got.SourceAssessments)
	assert.True(t, got.FirstReportedAt.Equal(testTime))

	entries, err := s.GetHistory(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"fatigue"}, entries[0].ReportedSymptomKeys)
	assert.Equal(t, 1, entries[0].TotalActiveAfter)
	assert.NotZero(t, entries[0].ID)
}

func TestSQLiteStore_ApplyMerge_Upsert(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	rec := testRecord("u1", "fatigue")
	entry := domain.HistoryEntry{UserID: "u1", Timestamp: testTime, ReportedSymptomKeys: []string{"fatigue"}, TotalActiveAfter: 1}
	require.NoError(t, s.ApplyMerge(ctx, "u1", []domain.SymptomRecord{rec}, entry))

	later := testTime.Add(48 * time.Hour)
	rec.Severity = domain.SeverityCritical
	rec.LastReportedAt = later
	rec.OccurrenceCount = 2
	rec.SourceAssessments = []string{"labs", "wellness"}
	entry2 := domain.HistoryEntry{UserID: "u1", Timestamp: later, ReportedSymptomKeys: []string{"fatigue"}, TotalActiveAfter: 1}
	require.NoError(t, s.ApplyMerge(ctx, "u1", []domain.SymptomRecord{rec}, entry2))

	records, err := s.GetRecords(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1, "upsert must not create a second row")
	assert.Equal(t, domain.SeverityCritical, records[0].Severity)
	assert.Equal(t, 2, records[0].OccurrenceCount)
	assert.Equal(t, []string{"labs", "wellness"}, records[0].SourceAssessments)

	entries, err := s.GetHistory(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "history only ever appends")
}

func TestSQLiteStore_GetHistory_NewestFirstWithLimit(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := domain.HistoryEntry{
			UserID:              "u1",
			Timestamp:           testTime.Add(time.Duration(i) * time.Hour),
			ReportedSymptomKeys: []string{"fatigue"},
			TotalActiveAfter:    i + 1,
		}
		require.NoError(t, s.ApplyMerge(ctx, "u1", nil, entry))
	}

	entries, err := s.GetHistory(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[0].TotalActiveAfter)
	assert.Equal(t, 2, entries[1].TotalActiveAfter)
}

func TestSQLiteStore_CreateFlags_ActiveUniqueness(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	first := testFlag("u1", "ferritin", "fatigue")
	require.NoError(t, s.CreateFlags(ctx, []domain.BiomarkerFlag{first}))

	// A second active flag for the same triple is a concurrent-write loss.
	dup := testFlag("u1", "ferritin", "fatigue")
	err := s.CreateFlags(ctx, []domain.BiomarkerFlag{dup})
	assert.True(t, errors.Is(err, domain.ErrConcurrentWrite))

	// Same biomarker for a different symptom is a distinct triple.
	other := testFlag("u1", "ferritin", "hair_loss")
	assert.NoError(t, s.CreateFlags(ctx, []domain.BiomarkerFlag{other}))
}

func TestSQLiteStore_ResolveFlag(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	flag := testFlag("u1", "tsh", "fatigue")
	require.NoError(t, s.CreateFlags(ctx, []domain.BiomarkerFlag{flag}))

	at := testTime.Add(time.Hour)
	resolved, err := s.ResolveFlag(ctx, flag.ID, "reviewer-1", at)
	require.NoError(t, err)
	assert.Equal(t, domain.FlagResolved, resolved.Status)
	assert.Equal(t, "reviewer-1", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.ResolvedAt.Equal(at))

	_, err = s.ResolveFlag(ctx, flag.ID, "reviewer-2", at)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = s.ResolveFlag(ctx, "missing", "reviewer-1", at)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSQLiteStore_ResolvedTripleCanBeRecreated(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	flag := testFlag("u1", "vitamin_d", "fatigue")
	require.NoError(t, s.CreateFlags(ctx, []domain.BiomarkerFlag{flag}))
	_, err := s.ResolveFlag(ctx, flag.ID, "reviewer-1", testTime.Add(time.Hour))
	require.NoError(t, err)

	// The partial index only covers active rows, so the resolved flag does
	// not block a fresh one.
	fresh := testFlag("u1", "vitamin_d", "fatigue")
	require.NoError(t, s.CreateFlags(ctx, []domain.BiomarkerFlag{fresh}))

	active, err := s.GetFlags(ctx, "u1", domain.FlagActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)

	all, err := s.GetFlags(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_GetFlags_StatusFilter(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	a := testFlag("u1", "tsh", "fatigue")
	b := testFlag("u1", "magnesium", "insomnia")
	require.NoError(t, s.CreateFlags(ctx, []domain.BiomarkerFlag{a, b}))
	_, err := s.ResolveFlag(ctx, a.ID, "reviewer-1", testTime.Add(time.Hour))
	require.NoError(t, err)

	active, err := s.GetFlags(ctx, "u1", domain.FlagActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	resolved, err := s.GetFlags(ctx, "u1", domain.FlagResolved)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, a.ID, resolved[0].ID)
}

func TestSQLiteStore_UserIsolation(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	entry := domain.HistoryEntry{UserID: "u1", Timestamp: testTime, ReportedSymptomKeys: []string{"fatigue"}, TotalActiveAfter: 1}
	require.NoError(t, s.ApplyMerge(ctx, "u1", []domain.SymptomRecord{testRecord("u1", "fatigue")}, entry))
	require.NoError(t, s.CreateFlags(ctx, []domain.BiomarkerFlag{testFlag("u1", "tsh", "fatigue")}))

	records, err := s.GetRecords(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, records)

	entries, err := s.GetHistory(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	flags, err := s.GetFlags(ctx, "u2", "")
	require.NoError(t, err)
	assert.Empty(t, flags)
}
