// Package audit provides a permanent trail of flag resolutions. The trail is
// append-only and outlives the flags themselves; compliance reviews read it
// long after the clinical queue has moved on.
package audit

import (
	"context"
	"io"
	"time"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// Resolution is one audit entry: who resolved which flag, and when.
type Resolution struct {
	ID                   int64     `json:"id,omitempty"`
	FlagID               string    `json:"flag_id"`
	UserID               string    `json:"user_id"`
	BiomarkerKey         string    `json:"biomarker_key"`
	TriggeringSymptomKey string    `json:"triggering_symptom_key"`
	ResolvedBy           string    `json:"resolved_by"`
	ResolvedAt           time.Time `json:"resolved_at"`
	CreatedAt            time.Time `json:"created_at"`
}

// Log defines the audit trail storage operations.
type Log interface {
	// RecordResolution appends an audit entry for a resolved flag.
	RecordResolution(ctx context.Context, flag *domain.BiomarkerFlag) error

	// List returns audit entries for a user, newest first, with pagination.
	List(ctx context.Context, userID string, limit, offset int) ([]*Resolution, error)

	// Count returns the total number of audit entries.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every audit entry for a user to a JSON writer.
	ExportJSON(ctx context.Context, userID string, writer io.Writer) error

	// Close closes the log and releases resources.
	Close() error
}

// Export is the JSON export format.
type Export struct {
	Version     string        `json:"version"`
	ExportedAt  time.Time     `json:"exported_at"`
	UserID      string        `json:"user_id"`
	Count       int           `json:"count"`
	Resolutions []*Resolution `json:"resolutions"`
}
