package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// Defaults for analytics shape when the config leaves them unset.
const (
	DefaultTopN            = 5
	DefaultTrendWindowDays = 30
)

// Analytics computes read-only summaries over a user's ledger, history, and
// flag set. Everything here is a deterministic function of stored state plus
// the supplied clock; nothing mutates.
type Analytics struct {
	store           domain.Store
	log             *logrus.Logger
	topN            int
	trendWindowDays int
}

// NewAnalytics creates the analytics aggregator. topN and trendWindowDays
// fall back to package defaults when non-positive.
func NewAnalytics(store domain.Store, logger *logrus.Logger, topN, trendWindowDays int) *Analytics {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if trendWindowDays <= 0 {
		trendWindowDays = DefaultTrendWindowDays
	}
	return &Analytics{store: store, log: logger, topN: topN, trendWindowDays: trendWindowDays}
}

// Summary computes the full analytics summary for a user at the given
// instant. A user with no records gets an empty summary, not an error.
func (a *Analytics) Summary(ctx context.Context, userID string, now time.Time) (*domain.AnalyticsSummary, error) {
	records, err := a.store.GetRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	var active []domain.SymptomRecord
	for _, rec := range records {
		if rec.Status(now) == domain.SymptomActive {
			active = append(active, rec)
		}
	}

	summary := &domain.AnalyticsSummary{
		UserID:            userID,
		GeneratedAt:       now,
		UniqueActiveCount: len(active),
		CountByCategory:   make(map[string]int),
	}

	for _, rec := range active {
		summary.TotalActiveCount += rec.OccurrenceCount
		summary.CountByCategory[rec.Category]++
	}
	summary.MostCommonCategory = mostCommonCategory(summary.CountByCategory)
	summary.MostSevereSymptoms = topBySeverity(active, a.topN)
	summary.MostFrequentSymptoms = topByFrequency(active, a.topN)

	flags, err := a.store.GetFlags(ctx, userID, domain.FlagActive)
	if err != nil {
		return nil, fmt.Errorf("loading flags: %w", err)
	}
	summary.ActiveFlagCount = len(flags)

	trend, err := a.Trend(ctx, userID, now, a.trendWindowDays)
	if err != nil {
		return nil, err
	}
	summary.Trend = *trend

	return summary, nil
}

// Trend compares the most recent history entry against the entry closest to
// windowDays in the past. With fewer than two entries it reports
// insufficient data rather than guessing.
func (a *Analytics) Trend(ctx context.Context, userID string, now time.Time, windowDays int) (*domain.TrendResult, error) {
	if windowDays <= 0 {
		windowDays = a.trendWindowDays
	}
	result := &domain.TrendResult{Direction: domain.TrendInsufficientData, WindowDays: windowDays}

	entries, err := a.store.GetHistory(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if len(entries) < 2 {
		return result, nil
	}

	latest := entries[0]
	target := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	baseline := entries[1]
	best := absDuration(baseline.Timestamp.Sub(target))
	for _, e := range entries[2:] {
		if d := absDuration(e.Timestamp.Sub(target)); d < best {
			best = d
			baseline = e
		}
	}

	result.Delta = latest.TotalActiveAfter - baseline.TotalActiveAfter
	switch {
	case result.Delta < 0:
		result.Direction = domain.TrendImproving
	case result.Delta > 0:
		result.Direction = domain.TrendWorsening
	default:
		result.Direction = domain.TrendStable
	}
	return result, nil
}

func mostCommonCategory(counts map[string]int) string {
	best := ""
	bestCount := 0
	// Ties break toward the lexically smaller category for determinism.
	categories := make([]string, 0, len(counts))
	for c := range counts {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return best
}

func topBySeverity(records []domain.SymptomRecord, n int) []domain.SymptomSummary {
	sorted := make([]domain.SymptomRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Severity.Rank() != sorted[j].Severity.Rank() {
			return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
		}
		return sorted[i].LastReportedAt.After(sorted[j].LastReportedAt)
	})
	return summarize(sorted, n)
}

func topByFrequency(records []domain.SymptomRecord, n int) []domain.SymptomSummary {
	sorted := make([]domain.SymptomRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].OccurrenceCount != sorted[j].OccurrenceCount {
			return sorted[i].OccurrenceCount > sorted[j].OccurrenceCount
		}
		return sorted[i].LastReportedAt.After(sorted[j].LastReportedAt)
	})
	return summarize(sorted, n)
}

func summarize(records []domain.SymptomRecord, n int) []domain.SymptomSummary {
	if n > len(records) {
		n = len(records)
	}
	out := make([]domain.SymptomSummary, 0, n)
	for _, rec := range records[:n] {
		out = append(out, domain.SymptomSummary{
			SymptomKey:      rec.SymptomKey,
			DisplayName:     rec.DisplayName,
			Category:        rec.Category,
			Severity:        rec.Severity,
			OccurrenceCount: rec.OccurrenceCount,
			LastReportedAt:  rec.LastReportedAt,
		})
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
