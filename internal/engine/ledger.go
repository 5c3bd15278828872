// Package engine implements the symptom ledger, the biomarker flagging
// engine, and the read-side analytics aggregator.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// Ledger owns the per-user symptom record set and the append-only history
// log. It implements the merge/expire algorithm; expiration is always lazy,
// computed against the caller-supplied clock.
type Ledger struct {
	store    domain.Store
	taxonomy *domain.Taxonomy
	log      *logrus.Logger
}

// NewLedger creates a ledger bound to a store and an immutable taxonomy.
func NewLedger(store domain.Store, taxonomy *domain.Taxonomy, logger *logrus.Logger) *Ledger {
	return &Ledger{store: store, taxonomy: taxonomy, log: logger}
}

// Merge applies one submission event to a user's ledger. Tuples naming
// symptoms outside the taxonomy are skipped and reported, never silently
// dropped; the rest apply atomically together with exactly one history
// entry. The returned active set covers the user's whole record set as of
// eventTime, so the flagging engine reconciles against the true current
// state rather than just this event's delta.
//
// Callers must serialize Merge calls per user; see Service.
func (l *Ledger) Merge(ctx context.Context, userID, assessmentType string, tuples []domain.SymptomTuple, eventTime time.Time) (*domain.MergeResult, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "user ID is required", userID)
	}
	if assessmentType == "" {
		return nil, domain.NewValidationError("assessment_type", "assessment type is required", assessmentType)
	}
	if eventTime.IsZero() {
		return nil, domain.NewValidationError("event_time", "event time is required", eventTime)
	}

	existing, err := l.store.GetRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	byKey := make(map[string]*domain.SymptomRecord, len(existing))
	for i := range existing {
		byKey[existing[i].SymptomKey] = &existing[i]
	}

	var skipped []string
	touched := make(map[string]*domain.SymptomRecord)
	for _, tuple := range tuples {
		def, ok := l.taxonomy.Lookup(tuple.SymptomKey)
		if !ok {
			skipped = append(skipped, tuple.SymptomKey)
			l.log.WithFields(logrus.Fields{
				"user_id":     userID,
				"symptom_key": tuple.SymptomKey,
			}).Warn("Skipping tuple with unknown symptom key")
			continue
		}

		if rec, dup := touched[def.Key]; dup {
			// Same symptom twice in one event: last write wins, but the
			// occurrence count moves once per event, not per answer.
			rec.Severity = tuple.Severity
			rec.Frequency = tuple.Frequency
			continue
		}

		if rec, ok := byKey[def.Key]; ok {
			rec.Severity = tuple.Severity
			rec.Frequency = tuple.Frequency
			rec.LastReportedAt = eventTime
			rec.AddSource(assessmentType)
			rec.OccurrenceCount++
			touched[def.Key] = rec
			continue
		}

		rec := &domain.SymptomRecord{
			UserID:            userID,
			SymptomKey:        def.Key,
			DisplayName:       def.DisplayName,
			Category:          def.Category,
			Severity:          tuple.Severity,
			Frequency:         tuple.Frequency,
			SourceAssessments: []string{assessmentType},
			FirstReportedAt:   eventTime,
			LastReportedAt:    eventTime,
			OccurrenceCount:   1,
		}
		byKey[def.Key] = rec
		touched[def.Key] = rec
	}

	reportedKeys := make([]string, 0, len(touched))
	updates := make([]domain.SymptomRecord, 0, len(touched))
	for key, rec := range touched {
		reportedKeys = append(reportedKeys, key)
		updates = append(updates, *rec)
	}
	sort.Strings(reportedKeys)
	sort.Slice(updates, func(i, j int) bool { return updates[i].SymptomKey < updates[j].SymptomKey })

	// Active count is taken after the tuples apply but before any
	// expiration bookkeeping: a symptom re-activated by this very event
	// counts immediately.
	activeKeys := activeKeysAt(byKey, eventTime)

	entry := domain.HistoryEntry{
		UserID:              userID,
		Timestamp:           eventTime,
		ReportedSymptomKeys: reportedKeys,
		TotalActiveAfter:    len(activeKeys),
	}
	if err := l.store.ApplyMerge(ctx, userID, updates, entry); err != nil {
		return nil, fmt.Errorf("applying merge: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"assessment_type": assessmentType,
		"reported":        len(reportedKeys),
		"skipped":         len(skipped),
		"active_after":    len(activeKeys),
	}).Info("Merged submission event")

	return &domain.MergeResult{
		ActiveSymptomKeys: activeKeys,
		Skipped:           skipped,
	}, nil
}

// ActiveRecords returns the user's records whose status is active at the
// given instant.
func (l *Ledger) ActiveRecords(ctx context.Context, userID string, now time.Time) ([]domain.SymptomRecord, error) {
	active, _, err := l.ExpireSweep(ctx, userID, now)
	return active, err
}

// ExpireSweep partitions a user's records into active and expired at the
// given instant. Read-only; there is no clock-driven sweep anywhere in the
// engine.
func (l *Ledger) ExpireSweep(ctx context.Context, userID string, now time.Time) (active, expired []domain.SymptomRecord, err error) {
	records, err := l.store.GetRecords(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading records: %w", err)
	}
	for _, rec := range records {
		if rec.Status(now) == domain.SymptomActive {
			active = append(active, rec)
		} else {
			expired = append(expired, rec)
		}
	}
	return active, expired, nil
}

// History returns the user's history entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	return l.store.GetHistory(ctx, userID, limit)
}

func activeKeysAt(records map[string]*domain.SymptomRecord, now time.Time) []string {
	keys := make([]string, 0, len(records))
	for key, rec := range records {
		if rec.Status(now) == domain.SymptomActive {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
