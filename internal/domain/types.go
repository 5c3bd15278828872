// Package domain contains the core entities of the symptom-to-biomarker
// correlation engine: symptom records, history entries, biomarker flags, and
// the severity duration policy that drives lazy expiration.
package domain

import (
	"sort"
	"strings"
	"time"
)

// Severity is the reported intensity of a symptom. Upstream forms collect it
// as free text, so parsing degrades to SeverityModerate rather than erroring.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity is applied when an unrecognized severity value is reported.
const DefaultSeverity = SeverityModerate

// IsValid reports whether the severity is one of the closed enum values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere, SeverityCritical:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// TTL returns how long a symptom reported at this severity stays active
// without being re-reported.
func (s Severity) TTL() time.Duration {
	days := map[Severity]int{
		SeverityMild:     14,
		SeverityModerate: 30,
		SeveritySevere:   60,
		SeverityCritical: 90,
	}
	d, ok := days[s]
	if !ok {
		d = days[DefaultSeverity]
	}
	return time.Duration(d) * 24 * time.Hour
}

// Rank orders severities for analytics: critical > severe > moderate > mild.
// Unrecognized values rank as the moderate default.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeveritySevere:
		return 3
	case SeverityMild:
		return 1
	default:
		return 2
	}
}

// ParseSeverity normalizes a reported severity string to the closed enum,
// falling back to DefaultSeverity for anything unrecognized.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return DefaultSeverity
	}
	return s
}

// SymptomStatus is derived from a record's last report time and severity TTL.
// It is never stored authoritatively.
type SymptomStatus string

const (
	SymptomActive  SymptomStatus = "active"
	SymptomExpired SymptomStatus = "expired"
)

// FlagStatus is the lifecycle state of a biomarker flag.
type FlagStatus string

const (
	FlagActive   FlagStatus = "active"
	FlagResolved FlagStatus = "resolved"
)

// SymptomTuple is one normalized symptom report inside a submission event.
type SymptomTuple struct {
	SymptomKey string   `json:"symptom_key"`
	Severity   Severity `json:"severity"`
	Frequency  string   `json:"frequency,omitempty"`
}

// SymptomRecord is the per-user, per-symptom mutable state. There is at most
// one record per (user, symptom_key); re-reports overwrite severity and
// frequency and bump the recency fields.
type SymptomRecord struct {
	UserID            string    `json:"user_id"`
	SymptomKey        string    `json:"symptom_key"`
	DisplayName       string    `json:"display_name"`
	Category          string    `json:"category"`
	Severity          Severity  `json:"severity"`
	Frequency         string    `json:"frequency,omitempty"`
	SourceAssessments []string  `json:"source_assessments"`
	FirstReportedAt   time.Time `json:"first_reported_at"`
	LastReportedAt    time.Time `json:"last_reported_at"`
	OccurrenceCount   int       `json:"occurrence_count"`
}

// ComputeStatus derives the record's status at the given instant. Pure
// function of the record fields plus the clock; expiration is always computed
// at read time, never swept on a timer.
func ComputeStatus(r *SymptomRecord, now time.Time) SymptomStatus {
	if now.Before(r.LastReportedAt.Add(r.Severity.TTL())) {
		return SymptomActive
	}
	return SymptomExpired
}

// Status is a convenience wrapper around ComputeStatus.
func (r *SymptomRecord) Status(now time.Time) SymptomStatus {
	return ComputeStatus(r, now)
}

// ExpiresAt returns the instant the record leaves the active set unless
// re-reported first.
func (r *SymptomRecord) ExpiresAt() time.Time {
	return r.LastReportedAt.Add(r.Severity.TTL())
}

// HasSource reports whether the assessment type already contributed to this
// record.
func (r *SymptomRecord) HasSource(assessmentType string) bool {
	for _, s := range r.SourceAssessments {
		if s == assessmentType {
			return true
		}
	}
	return false
}

// AddSource records a contributing assessment type. The set grows
// monotonically and stays sorted for stable serialization.
func (r *SymptomRecord) AddSource(assessmentType string) {
	if r.HasSource(assessmentType) {
		return
	}
	r.SourceAssessments = append(r.SourceAssessments, assessmentType)
	sort.Strings(r.SourceAssessments)
}

// HistoryEntry is the append-only record of one submission event. Entries are
// never mutated or deleted.
type HistoryEntry struct {
	ID                  int64     `json:"id,omitempty"`
	UserID              string    `json:"user_id"`
	Timestamp           time.Time `json:"timestamp"`
	ReportedSymptomKeys []string  `json:"reported_symptom_keys"`
	TotalActiveAfter    int       `json:"total_active_after"`
}

// BiomarkerFlag is a standing notice that a biomarker warrants clinical
// review, tied to the symptom that triggered it. At most one active flag may
// exist per (user, biomarker, symptom); resolution is terminal and does not
// block a later re-trigger from creating a fresh flag.
type BiomarkerFlag struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	BiomarkerKey         string     `json:"biomarker_key"`
	TriggeringSymptomKey string     `json:"triggering_symptom_key"`
	Reason               string     `json:"reason"`
	Status               FlagStatus `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy           string     `json:"resolved_by,omitempty"`
}

// MergeResult is what the ledger hands back after applying one submission
// event. ActiveSymptomKeys covers the user's whole record set as of the event
// time, not just the keys touched by the event.
type MergeResult struct {
	ActiveSymptomKeys []string `json:"active_symptom_keys"`
	Skipped           []string `json:"skipped,omitempty"`
}

// TrendDirection describes the movement of the active-symptom count over a
// comparison window.
type TrendDirection string

const (
	TrendImproving        TrendDirection = "improving"
	TrendWorsening        TrendDirection = "worsening"
	TrendStable           TrendDirection = "stable"
	TrendInsufficientData TrendDirection = "insufficient_data"
)

// TrendResult compares the latest history entry against the entry closest to
// the window boundary.
type TrendResult struct {
	Direction  TrendDirection `json:"direction"`
	Delta      int            `json:"delta"`
	WindowDays int            `json:"window_days"`
}

// SymptomSummary is the analytics projection of a symptom record.
type SymptomSummary struct {
	SymptomKey      string    `json:"symptom_key"`
	DisplayName     string    `json:"display_name"`
	Category        string    `json:"category"`
	Severity        Severity  `json:"severity"`
	OccurrenceCount int       `json:"occurrence_count"`
	LastReportedAt  time.Time `json:"last_reported_at"`
}

// AnalyticsSummary is the read-side aggregation over a user's ledger,
// history, and flag set. TotalActiveCount sums occurrence counts across
// active records; UniqueActiveCount is the number of active records.
type AnalyticsSummary struct {
	UserID               string           `json:"user_id"`
	GeneratedAt          time.Time        `json:"generated_at"`
	TotalActiveCount     int              `json:"total_active_count"`
	UniqueActiveCount    int              `json:"unique_active_count"`
	CountByCategory      map[string]int   `json:"count_by_category"`
	MostCommonCategory   string           `json:"most_common_category,omitempty"`
	MostSevereSymptoms   []SymptomSummary `json:"most_severe_symptoms"`
	MostFrequentSymptoms []SymptomSummary `json:"most_frequent_symptoms"`
	ActiveFlagCount      int              `json:"active_flag_count"`
	Trend                TrendResult      `json:"trend"`
}
