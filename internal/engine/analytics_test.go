package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-biomarker-engine/internal/domain"
)

func TestAnalytics_Summary_EmptyUser(t *testing.T) {
	s := newTestStore(t)
	analytics := NewAnalytics(s, newTestLogger(), 0, 0)

	summary, err := analytics.Summary(context.Background(), "nobody", day0)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalActiveCount)
	assert.Equal(t, 0, summary.UniqueActiveCount)
	assert.Empty(t, summary.MostCommonCategory)
	assert.Equal(t, domain.TrendInsufficientData, summary.Trend.Direction)
}

func TestAnalytics_Summary_Counts(t *testing.T) {
	s := newTestStore(t)
	tax := domain.DefaultTaxonomy()
	ledger := NewLedger(s, tax, newTestLogger())
	analytics := NewAnalytics(s, newTestLogger(), 3, 30)
	ctx := context.Background()

	_, err := ledger.Merge(ctx, "u1", "wellness", []domain.SymptomTuple{
		{SymptomKey: "fatigue", Severity: domain.SeverityCritical},
		{SymptomKey: "brain_fog", Severity: domain.SeverityMild},
		{SymptomKey: "headache", Severity: domain.SeveritySevere},
	}, day0)
	require.NoError(t, err)

	// Re-report fatigue so its occurrence count leads.
	_, err = ledger.Merge(ctx, "u1", "labs", []domain.SymptomTuple{
		{SymptomKey: "fatigue", Severity: domain.SeverityCritical},
	}, day0.Add(days(1)))
	require.NoError(t, err)

	summary, err := analytics.Summary(ctx, "u1", day0.Add(days(2)))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.UniqueActiveCount)
	assert.Equal(t, 4, summary.TotalActiveCount, "occurrence counts sum across active records")
	assert.Equal(t, 1, summary.CountByCategory["energy"])
	assert.Equal(t, 2, summary.CountByCategory["cognitive"])
	assert.Equal(t, "cognitive", summary.MostCommonCategory)

	require.NotEmpty(t, summary.MostSevereSymptoms)
	assert.Equal(t, "fatigue", summary.MostSevereSymptoms[0].SymptomKey)

	require.NotEmpty(t, summary.MostFrequentSymptoms)
	assert.Equal(t, "fatigue", summary.MostFrequentSymptoms[0].SymptomKey)
	assert.Equal(t, 2, summary.MostFrequentSymptoms[0].OccurrenceCount)
}

func TestAnalytics_Summary_ExcludesExpired(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedger(s, domain.DefaultTaxonomy(), newTestLogger())
	analytics := NewAnalytics(s, newTestLogger(), 5, 30)
	ctx := context.Background()

	_, err := ledger.Merge(ctx, "u1", "wellness", []domain.SymptomTuple{
		{SymptomKey: "fatigue", Severity: domain.SeverityMild},
	}, day0)
	require.NoError(t, err)

	summary, err := analytics.Summary(ctx, "u1", day0.Add(days(15)))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.UniqueActiveCount, "mild expires after 14 days")
}

func TestAnalytics_Trend(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedger(s, domain.DefaultTaxonomy(), newTestLogger())
	analytics := NewAnalytics(s, newTestLogger(), 5, 30)
	ctx := context.Background()

	// Day 0: two symptoms active. Day 25: only one reported recently
	// enough to matter, and the count recorded in history reflects it.
	_, err := ledger.Merge(ctx, "u1", "wellness", []domain.SymptomTuple{
		{SymptomKey: "fatigue", Severity: domain.SeverityMild},
		{SymptomKey: "headache", Severity: domain.SeverityMild},
	}, day0)
	require.NoError(t, err)

	_, err = ledger.Merge(ctx, "u1", "wellness", []domain.SymptomTuple{
		{SymptomKey: "fatigue", Severity: domain.SeverityMild},
	}, day0.Add(days(25)))
	require.NoError(t, err)

	trend, err := analytics.Trend(ctx, "u1", day0.Add(days(25)), 30)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendImproving, trend.Direction)
	assert.Equal(t, -1, trend.Delta)
}

func TestAnalytics_Trend_Worsening(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedger(s, domain.DefaultTaxonomy(), newTestLogger())
	analytics := NewAnalytics(s, newTestLogger(), 5, 30)
	ctx := context.Background()

	_, err := ledger.Merge(ctx, "u1", "wellness", []domain.SymptomTuple{
		{SymptomKey: "fatigue", Severity: domain.SeverityModerate},
	}, day0)
	require.NoError(t, err)

	_, err = ledger.Merge(ctx, "u1", "wellness", []domain.SymptomTuple{
		{SymptomKey: "headache", Severity: domain.SeverityModerate},
		{SymptomKey: "insomnia", Severity: domain.SeverityModerate},
	}, day0.Add(days(10)))
	require.NoError(t, err)

	trend, err := analytics.Trend(ctx, "u1", day0.Add(days(10)), 30)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendWorsening, trend.Direction)
	assert.Equal(t, 2, trend.Delta)
}

func TestAnalytics_Trend_InsufficientData(t *testing.T) {
	s := newTestStore(t)
	ledger := NewLedger(s, domain.DefaultTaxonomy(), newTestLogger())
	analytics := NewAnalytics(s, newTestLogger(), 5, 30)
	ctx := context.Background()

	trend, err := analytics.Trend(ctx, "u1", day0, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendInsufficientData, trend.Direction)

	_, err = ledger.Merge(ctx, "u1", "wellness", []domain.SymptomTuple{
		{SymptomKey: "fatigue", Severity: domain.SeverityMild},
	}, day0)
	require.NoError(t, err)

	trend, err = analytics.Trend(ctx, "u1", day0, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendInsufficientData, trend.Direction, "a single entry is not a trend")
}
