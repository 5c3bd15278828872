package domain

import (
	"context"
	"time"
)

// Store is the persistence boundary for a user's ledger, history, and flag
// set. All writes touching one user's partition must be atomic; the medium
// behind the interface is an implementation detail.
type Store interface {
	// GetRecords returns every symptom record for a user, active or
	// expired. An unknown user yields an empty slice, not an error.
	GetRecords(ctx context.Context, userID string) ([]SymptomRecord, error)

	// ApplyMerge upserts the touched records and appends exactly one
	// history entry in a single transaction.
	ApplyMerge(ctx context.Context, userID string, records []SymptomRecord, entry HistoryEntry) error

	// GetHistory returns history entries newest first. limit <= 0 means
	// no limit.
	GetHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)

	// GetFlags returns a user's flags filtered by status. An empty status
	// returns all flags.
	GetFlags(ctx context.Context, userID string, status FlagStatus) ([]BiomarkerFlag, error)

	// CreateFlags inserts new flags in a single transaction. A uniqueness
	// violation on an active (user, biomarker, symptom) triple surfaces
	// as ErrConcurrentWrite.
	CreateFlags(ctx context.Context, flags []BiomarkerFlag) error

	// ResolveFlag transitions a flag to resolved and returns it. Returns
	// ErrNotFound when the flag does not exist or is already resolved.
	ResolveFlag(ctx context.Context, flagID, resolvedBy string, at time.Time) (*BiomarkerFlag, error)

	// Close releases storage resources.
	Close() error
}

// SymptomLedger owns the merge/expire algorithm over per-user symptom state.
type SymptomLedger interface {
	Merge(ctx context.Context, userID, assessmentType string, tuples []SymptomTuple, eventTime time.Time) (*MergeResult, error)
	ActiveRecords(ctx context.Context, userID string, now time.Time) ([]SymptomRecord, error)
	History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}

// FlagReconciler derives biomarker flags from the active-symptom set and
// owns the resolve-only-by-reviewer rule.
type FlagReconciler interface {
	Reconcile(ctx context.Context, userID string, activeSymptomKeys []string) ([]BiomarkerFlag, error)
	Resolve(ctx context.Context, flagID, resolvedBy string) (*BiomarkerFlag, error)
	ActiveFlags(ctx context.Context, userID string) ([]BiomarkerFlag, error)
}
