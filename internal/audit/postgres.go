package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// PostgresLog implements the Log interface using PostgreSQL.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a new PostgreSQL audit log.
// It expects the resolution_audit table to already exist (created via migrations).
func NewPostgresLog(db *sql.DB) (*PostgresLog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresLog{db: db}, nil
}

// NewPostgresLogFromURL creates a new PostgreSQL audit log from a connection URL.
func NewPostgresLogFromURL(databaseURL string) (*PostgresLog, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	log, err := NewPostgresLog(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return log, nil
}

// RecordResolution appends an audit entry for a resolved flag. The entry is
// insert-only; nothing ever updates or deletes rows in this table.
func (l *PostgresLog) RecordResolution(ctx context.Context, flag *domain.BiomarkerFlag) error {
	if flag == nil {
		return fmt.Errorf("flag is required")
	}
	if flag.ResolvedAt == nil {
		return fmt.Errorf("flag %s is not resolved", flag.ID)
	}

	query := `
		INSERT INTO resolution_audit (
			flag_id, user_id, biomarker_key, triggering_symptom_key,
			resolved_by, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := l.db.ExecContext(ctx, query,
		flag.ID,
		flag.UserID,
		flag.BiomarkerKey,
		flag.TriggeringSymptomKey,
		flag.ResolvedBy,
		*flag.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}
	return nil
}

// List returns audit entries for a user, newest first.
func (l *PostgresLog) List(ctx context.Context, userID string, limit, offset int) ([]*Resolution, error) {
	query := `
		SELECT id, flag_id, user_id, biomarker_key, triggering_symptom_key,
			resolved_by, resolved_at, created_at
		FROM resolution_audit
		WHERE user_id = $1
		ORDER BY resolved_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := l.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	defer rows.Close()

	var result []*Resolution
	for rows.Next() {
		r := &Resolution{}
		err := rows.Scan(
			&r.ID, &r.FlagID, &r.UserID, &r.BiomarkerKey, &r.TriggeringSymptomKey,
			&r.ResolvedBy, &r.ResolvedAt, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, r)
	}

	return result, rows.Err()
}

// Count returns the total number of audit entries.
func (l *PostgresLog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resolution_audit").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count resolutions: %w", err)
	}
	return count, nil
}

// maxExportLimit caps the number of entries exported at once.
const maxExportLimit = 1000000

// ExportJSON writes every audit entry for a user to a JSON writer.
func (l *PostgresLog) ExportJSON(ctx context.Context, userID string, writer io.Writer) error {
	all, err := l.List(ctx, userID, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list resolutions: %w", err)
	}

	export := &Export{
		Version:     "1.0",
		ExportedAt:  time.Now(),
		UserID:      userID,
		Count:       len(all),
		Resolutions: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// Close closes the log and releases resources.
func (l *PostgresLog) Close() error {
	return l.db.Close()
}
