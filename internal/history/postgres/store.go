package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/history"
)

const selectEntries = `
SELECT history_id, session_id, owner, target_fingerprint, database_type, input_text, sql_text, source, row_count, duration_ms, executed_at
FROM query_history`

type Store struct {
	db *sql.DB
}

var (
	_ history.Store      = (*Store)(nil)
	_ history.ArchiveLog = (*Store)(nil)
)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, entry history.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	var executedAt any
	if !entry.ExecutedAt.IsZero() {
		executedAt = entry.ExecutedAt.UTC()
	}

	query := `
INSERT INTO query_history (session_id, owner, target_fingerprint, database_type, input_text, sql_text, source, row_count, duration_ms, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`
	if _, err := s.db.ExecContext(ctx, query,
		entry.SessionID,
		entry.Owner,
		entry.Target,
		string(entry.DatabaseType),
		entry.Input,
		entry.SQL,
		string(entry.Source),
		entry.RowCount,
		entry.Duration.Milliseconds(),
		executedAt,
	); err != nil {
		return fmt.Errorf("record query history: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, scope history.Scope, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, selectEntries+`
WHERE owner = $1 AND database_type = $2 AND target_fingerprint = $3
ORDER BY history_id DESC
LIMIT $4`, scope.Owner, string(scope.DatabaseType), scope.Target, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent history: %w", err)
	}
	return scanEntries(rows)
}

func (s *Store) Session(ctx context.Context, sessionID string) ([]history.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+`
WHERE session_id = $1
ORDER BY history_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session history: %w", err)
	}
	return scanEntries(rows)
}

func (s *Store) RecordArchive(ctx context.Context, sessionID, objectKey string, entries int) error {
	query := `
INSERT INTO history_archive (session_id, object_key, entry_count)
VALUES ($1, $2, $3)
ON CONFLICT (object_key) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, sessionID, objectKey, entries); err != nil {
		return fmt.Errorf("record history archive: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]history.Entry, error) {
	defer func() { _ = rows.Close() }()

	var out []history.Entry
	for rows.Next() {
		var (
			entry        history.Entry
			databaseType string
			source       string
			durationMS   int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.Owner,
			&entry.Target,
			&databaseType,
			&entry.Input,
			&entry.SQL,
			&source,
			&entry.RowCount,
			&durationMS,
			&entry.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.DatabaseType = catalog.DatabaseType(databaseType)
		entry.Source = history.Source(source)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
