package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRun is returned for runs that cannot be recorded.
var ErrInvalidRun = errors.New("invalid analysis run")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// RecordRun appends run to the log.
func (s *PostgresStore) RecordRun(ctx context.Context, run AnalysisRun) error {
	if strings.TrimSpace(run.DocumentID) == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidRun)
	}
	switch run.Outcome {
	case OutcomeApplied, OutcomeStale, OutcomeFailed:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidRun, run.Outcome)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			document_id, session_id, version, language, fingerprint,
			text_length, matches, outcome, error, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.DocumentID, run.SessionID, run.Version, run.Language, run.Fingerprint,
		run.TextLength, run.Matches, run.Outcome, nullableString(run.Error), run.DurationMS)
	if err != nil {
		return fmt.Errorf("insert analysis run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a document, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, documentID string, limit int) ([]AnalysisRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, session_id, version, language, fingerprint,
			text_length, matches, outcome, COALESCE(error, ''), duration_ms, created_at
		FROM analysis_runs
		WHERE document_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer rows.Close()

	items := make([]AnalysisRun, 0)
	for rows.Next() {
		var item AnalysisRun
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.SessionID, &item.Version, &item.Language,
			&item.Fingerprint, &item.TextLength, &item.Matches, &item.Outcome, &item.Error,
			&item.DurationMS, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis run: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis runs: %w", err)
	}
	return items, nil
}

// ListActivity summarizes run history per document, most recently active
// first.
func (s *PostgresStore) ListActivity(ctx context.Context, since time.Time) ([]DocumentActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'FAILED'),
			(ARRAY_AGG(outcome ORDER BY created_at DESC, id DESC))[1],
			MAX(created_at)
		FROM analysis_runs
		WHERE created_at >= $1
		GROUP BY document_id
		ORDER BY MAX(created_at) DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentActivity, 0)
	for rows.Next() {
		var item DocumentActivity
		if err := rows.Scan(&item.DocumentID, &item.Runs, &item.Failed, &item.LastOutcome, &item.LastRunAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

// PruneRuns deletes runs older than before and reports how many went.
func (s *PostgresStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune analysis runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune analysis runs: %w", err)
	}
	return n, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
