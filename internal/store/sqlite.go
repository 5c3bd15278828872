// Package store provides persistence for symptom records, history entries,
// and biomarker flags behind the domain.Store interface. Two media are
// supported: PostgreSQL for the full deployment and embedded SQLite for the
// lite deployment and tests.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/symptom-biomarker-engine/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite-backed store. It creates the database
// file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// createSQLiteSchema creates the tables and indexes.
func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS symptom_records (
		user_id TEXT NOT NULL,
		symptom_key TEXT NOT NULL,
		display_name TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		frequency TEXT NOT NULL DEFAULT '',
		source_assessments TEXT NOT NULL DEFAULT '[]',
		first_reported_at DATETIME NOT NULL,
		last_reported_at DATETIME NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, symptom_key)
	);

	CREATE TABLE IF NOT EXISTS symptom_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		reported_symptom_keys TEXT NOT NULL DEFAULT '[]',
		total_active_after INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_user_time ON symptom_history(user_id, recorded_at DESC);

	CREATE TABLE IF NOT EXISTS biomarker_flags (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		biomarker_key TEXT NOT NULL,
		triggering_symptom_key TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		resolved_at DATETIME,
		resolved_by TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_flags_active_unique
		ON biomarker_flags(user_id, biomarker_key, triggering_symptom_key)
		WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_flags_user_status ON biomarker_flags(user_id, status);
	`

	_, err := db.Exec(schema)
	return err
}

// GetRecords returns every symptom record for a user.
func (s *SQLiteStore) GetRecords(ctx context.Context, userID string) ([]domain.SymptomRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, symptom_key, display_name, category, severity, frequency,
			source_assessments, first_reported_at, last_reported_at, occurrence_count
		FROM symptom_records
		WHERE user_id = ?
		ORDER BY symptom_key
	`, userID)
	if err != nil {
		return nil, domain.NewStorageError("get records", err)
	}
	defer rows.Close()

	var records []domain.SymptomRecord
	for rows.Next() {
		var rec domain.SymptomRecord
		var severity, sources string
		err := rows.Scan(
			&rec.UserID, &rec.SymptomKey, &rec.DisplayName, &rec.Category,
			&severity, &rec.Frequency, &sources,
			&rec.FirstReportedAt, &rec.LastReportedAt, &rec.OccurrenceCount,
		)
		if err != nil {
			return nil, domain.NewStorageError("scan record", err)
		}
		rec.Severity = domain.Severity(severity)
		if err := json.Unmarshal([]byte(sources), &rec.SourceAssessments); err != nil {
			return nil, domain.NewStorageError("decode sources", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ApplyMerge upserts the touched records and appends the history entry in a
// single transaction, keeping merges atomic per user.
func (s *SQLiteStore) ApplyMerge(ctx context.Context, userID string, records []domain.SymptomRecord, entry domain.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStorageError("begin merge tx", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		sources, err := json.Marshal(rec.SourceAssessments)
		if err != nil {
			return domain.NewStorageError("encode sources", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO symptom_records (
				user_id, symptom_key, display_name, category, severity, frequency,
				source_assessments, first_reported_at, last_reported_at, occurrence_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, symptom_key) DO UPDATE SET
				severity = excluded.severity,
				frequency = excluded.frequency,
				source_assessments = excluded.source_assessments,
				last_reported_at = excluded.last_reported_at,
				occurrence_count = excluded.occurrence_count
		`,
			rec.UserID, rec.SymptomKey, rec.DisplayName, rec.Category,
			string(rec.Severity), rec.Frequency, string(sources),
			rec.FirstReportedAt, rec.LastReportedAt, rec.OccurrenceCount,
		)
		if err != nil {
			return domain.NewStorageError("upsert record", err)
		}
	}

	keys, err := json.Marshal(entry.ReportedSymptomKeys)
	if err != nil {
		return domain.NewStorageError("encode reported keys", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO symptom_history (user_id, recorded_at, reported_symptom_keys, total_active_after)
		VALUES (?, ?, ?, ?)
	`, userID, entry.Timestamp, string(keys), entry.TotalActiveAfter)
	if err != nil {
		return domain.NewStorageError("append history", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStorageError("commit merge", err)
	}
	return nil
}

// GetHistory returns history entries newest first.
func (s *SQLiteStore) GetHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	query := `
		SELECT id, user_id, recorded_at, reported_symptom_keys, total_active_after
		FROM symptom_history
		WHERE user_id = ?
		ORDER BY recorded_at DESC, id DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("get history", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var keys string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Timestamp, &keys, &e.TotalActiveAfter); err != nil {
			return nil, domain.NewStorageError("scan history", err)
		}
		if err := json.Unmarshal([]byte(keys), &e.ReportedSymptomKeys); err != nil {
			return nil, domain.NewStorageError("decode reported keys", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetFlags returns a user's flags, optionally filtered by status.
func (s *SQLiteStore) GetFlags(ctx context.Context, userID string, status domain.FlagStatus) ([]domain.BiomarkerFlag, error) {
	query := `
		SELECT id, user_id, biomarker_key, triggering_symptom_key, reason,
			status, created_at, resolved_at, resolved_by
		FROM biomarker_flags
		WHERE user_id = ?
	`
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("get flags", err)
	}
	defer rows.Close()

	var flags []domain.BiomarkerFlag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan flag", err)
		}
		flags = append(flags, *flag)
	}
	return flags, rows.Err()
}

// CreateFlags inserts new flags in a single transaction. The partial unique
// index on active (user, biomarker, symptom) triples turns a lost
// check-then-act race into ErrConcurrentWrite instead of a duplicate flag.
func (s *SQLiteStore) CreateFlags(ctx context.Context, flags []domain.BiomarkerFlag) error {
	if len(flags) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStorageError("begin flags tx", err)
	}
	defer tx.Rollback()

	for _, f := range flags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO biomarker_flags (
				id, user_id, biomarker_key, triggering_symptom_key,
				reason, status, created_at, resolved_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, '')
		`, f.ID, f.UserID, f.BiomarkerKey, f.TriggeringSymptomKey, f.Reason, string(f.Status), f.CreatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return fmt.Errorf("flag %s/%s for user %s: %w",
					f.BiomarkerKey, f.TriggeringSymptomKey, f.UserID, domain.ErrConcurrentWrite)
			}
			return domain.NewStorageError("insert flag", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStorageError("commit flags", err)
	}
	return nil
}

// ResolveFlag transitions a flag to resolved. Resolving a missing or
// already-resolved flag returns ErrNotFound so racing reviewers can detect
// each other.
func (s *SQLiteStore) ResolveFlag(ctx context.Context, flagID, resolvedBy string, at time.Time) (*domain.BiomarkerFlag, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE biomarker_flags
		SET status = 'resolved', resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = 'active'
	`, at, resolvedBy, flagID)
	if err != nil {
		return nil, domain.NewStorageError("resolve flag", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, domain.NewStorageError("resolve flag", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("flag %s: %w", flagID, domain.ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, biomarker_key, triggering_symptom_key, reason,
			status, created_at, resolved_at, resolved_by
		FROM biomarker_flags WHERE id = ?
	`, flagID)
	flag, err := scanFlag(row)
	if err != nil {
		return nil, domain.NewStorageError("reload flag", err)
	}
	return flag, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanFlag scans a row into a BiomarkerFlag.
func scanFlag(s scanner) (*domain.BiomarkerFlag, error) {
	flag := &domain.BiomarkerFlag{}
	var status string
	var resolvedAt sql.NullTime

	err := s.Scan(
		&flag.ID, &flag.UserID, &flag.BiomarkerKey, &flag.TriggeringSymptomKey,
		&flag.Reason, &status, &flag.CreatedAt, &resolvedAt, &flag.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}

	flag.Status = domain.FlagStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		flag.ResolvedAt = &t
	}
	return flag, nil
}
