package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/database"
	"github.com/symptom-biomarker-engine/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique index violations.
const uniqueViolation = "23505"

// PostgresStore implements domain.Store on top of a pgx connection pool.
// Schema is managed by migrations; see internal/database/migrations.
type PostgresStore struct {
	db  *database.DB
	log *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *database.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: logger}
}

// GetRecords returns every symptom record for a user.
func (s *PostgresStore) GetRecords(ctx context.Context, userID string) ([]domain.SymptomRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT user_id, symptom_key, display_name, category, severity, frequency,
			source_assessments, first_reported_at, last_reported_at, occurrence_count
		FROM symptom_records
		WHERE user_id = $1
		ORDER BY symptom_key
	`, userID)
	if err != nil {
		return nil, domain.NewStorageError("get records", err)
	}
	defer rows.Close()

	var records []domain.SymptomRecord
	for rows.Next() {
		var rec domain.SymptomRecord
		var severity string
		var sources []byte
		err := rows.Scan(
			&rec.UserID, &rec.SymptomKey, &rec.DisplayName, &rec.Category,
			&severity, &rec.Frequency, &sources,
			&rec.FirstReportedAt, &rec.LastReportedAt, &rec.OccurrenceCount,
		)
		if err != nil {
			return nil, domain.NewStorageError("scan record", err)
		}
		rec.Severity = domain.Severity(severity)
		if err := json.Unmarshal(sources, &rec.SourceAssessments); err != nil {
			return nil, domain.NewStorageError("decode sources", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ApplyMerge upserts the touched records and appends the history entry in a
// single transaction.
func (s *PostgresStore) ApplyMerge(ctx context.Context, userID string, records []domain.SymptomRecord, entry domain.HistoryEntry) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return domain.NewStorageError("begin merge tx", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		sources, err := json.Marshal(rec.SourceAssessments)
		if err != nil {
			return domain.NewStorageError("encode sources", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO symptom_records (
				user_id, symptom_key, display_name, category, severity, frequency,
				source_assessments, first_reported_at, last_reported_at, occurrence_count
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id, symptom_key) DO UPDATE SET
				severity = EXCLUDED.severity,
				frequency = EXCLUDED.frequency,
				source_assessments = EXCLUDED.source_assessments,
				last_reported_at = EXCLUDED.last_reported_at,
				occurrence_count = EXCLUDED.occurrence_count
		`,
			rec.UserID, rec.SymptomKey, rec.DisplayName, rec.Category,
			string(rec.Severity), rec.Frequency, sources,
			rec.FirstReportedAt, rec.LastReportedAt, rec.OccurrenceCount,
		)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"user_id":     userID,
				"symptom_key": rec.SymptomKey,
				"error":       err,
			}).Error("Failed to upsert symptom record")
			return domain.NewStorageError("upsert record", err)
		}
	}

	keys, err := json.Marshal(entry.ReportedSymptomKeys)
	if err != nil {
		return domain.NewStorageError("encode reported keys", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO symptom_history (user_id, recorded_at, reported_symptom_keys, total_active_after)
		VALUES ($1, $2, $3, $4)
	`, userID, entry.Timestamp, keys, entry.TotalActiveAfter)
	if err != nil {
		return domain.NewStorageError("append history", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewStorageError("commit merge", err)
	}
	return nil
}

// GetHistory returns history entries newest first.
func (s *PostgresStore) GetHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	query := `
		SELECT id, user_id, recorded_at, reported_symptom_keys, total_active_after
		FROM symptom_history
		WHERE user_id = $1
		ORDER BY recorded_at DESC, id DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("get history", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var keys []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Timestamp, &keys, &e.TotalActiveAfter); err != nil {
			return nil, domain.NewStorageError("scan history", err)
		}
		if err := json.Unmarshal(keys, &e.ReportedSymptomKeys); err != nil {
			return nil, domain.NewStorageError("decode reported keys", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetFlags returns a user's flags, optionally filtered by status.
func (s *PostgresStore) GetFlags(ctx context.Context, userID string, status domain.FlagStatus) ([]domain.BiomarkerFlag, error) {
	query := `
		SELECT id, user_id, biomarker_key, triggering_symptom_key, reason,
			status, created_at, resolved_at, resolved_by
		FROM biomarker_flags
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("get flags", err)
	}
	defer rows.Close()

	var flags []domain.BiomarkerFlag
	for rows.Next() {
		var flag domain.BiomarkerFlag
		var st string
		var resolvedAt *time.Time
		err := rows.Scan(
			&flag.ID, &flag.UserID, &flag.BiomarkerKey, &flag.TriggeringSymptomKey,
			&flag.Reason, &st, &flag.CreatedAt, &resolvedAt, &flag.ResolvedBy,
		)
		if err != nil {
			return nil, domain.NewStorageError("scan flag", err)
		}
		flag.Status = domain.FlagStatus(st)
		flag.ResolvedAt = resolvedAt
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

// CreateFlags inserts new flags in a single transaction. The partial unique
// index on active triples surfaces racing writers as ErrConcurrentWrite.
func (s *PostgresStore) CreateFlags(ctx context.Context, flags []domain.BiomarkerFlag) error {
	if len(flags) == 0 {
		return nil
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return domain.NewStorageError("begin flags tx", err)
	}
	defer tx.Rollback(ctx)

	for _, f := range flags {
		_, err := tx.Exec(ctx, `
			INSERT INTO biomarker_flags (
				id, user_id, biomarker_key, triggering_symptom_key,
				reason, status, created_at, resolved_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, '')
		`, f.ID, f.UserID, f.BiomarkerKey, f.TriggeringSymptomKey, f.Reason, string(f.Status), f.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("flag %s/%s for user %s: %w",
					f.BiomarkerKey, f.TriggeringSymptomKey, f.UserID, domain.ErrConcurrentWrite)
			}
			return domain.NewStorageError("insert flag", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewStorageError("commit flags", err)
	}
	return nil
}

// ResolveFlag transitions a flag to resolved.
func (s *PostgresStore) ResolveFlag(ctx context.Context, flagID, resolvedBy string, at time.Time) (*domain.BiomarkerFlag, error) {
	var flag domain.BiomarkerFlag
	var st string
	var resolvedAt *time.Time

	err := s.db.Pool.QueryRow(ctx, `
		UPDATE biomarker_flags
		SET status = 'resolved', resolved_at = $1, resolved_by = $2
		WHERE id = $3 AND status = 'active'
		RETURNING id, user_id, biomarker_key, triggering_symptom_key, reason,
			status, created_at, resolved_at, resolved_by
	`, at, resolvedBy, flagID).Scan(
		&flag.ID, &flag.UserID, &flag.BiomarkerKey, &flag.TriggeringSymptomKey,
		&flag.Reason, &st, &flag.CreatedAt, &resolvedAt, &flag.ResolvedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("flag %s: %w", flagID, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("resolve flag", err)
	}

	flag.Status = domain.FlagStatus(st)
	flag.ResolvedAt = resolvedAt
	return &flag, nil
}

// Close releases the underlying pool. The pool is shared, so Close here is a
// no-op; lifecycle belongs to the database package.
func (s *PostgresStore) Close() error {
	return nil
}
