// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Appends execution lifecycle entries with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS execution_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			exec_id TEXT NOT NULL,
			tool_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			principal TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_execution_entries_exec_id
			ON execution_entries(exec_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordExecution appends one lifecycle entry
func (s *SQLiteStore) RecordExecution(ctx context.Context, entry *ExecutionEntry) error {
	var result sql.NullString
	if len(entry.Result) > 0 {
		result = sql.NullString{String: string(entry.Result), Valid: true}
	}

	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_entries (exec_id, tool_id, status, result, principal, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.ExecID,
		entry.ToolID,
		entry.Status,
		result,
		entry.Principal,
		recordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting execution entry: %w", err)
	}
	return nil
}

// ExecutionHistory returns every entry for an execution, oldest first
func (s *SQLiteStore) ExecutionHistory(ctx context.Context, execID string) ([]*ExecutionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exec_id, tool_id, status, result, principal, recorded_at
		FROM execution_entries
		WHERE exec_id = ?
		ORDER BY id ASC
	`, execID)
	if err != nil {
		return nil, fmt.Errorf("querying execution history: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

// RecentExecutions returns the latest entry of up to limit executions, newest first
func (s *SQLiteStore) RecentExecutions(ctx context.Context, limit int) ([]*ExecutionEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.exec_id, e.tool_id, e.status, e.result, e.principal, e.recorded_at
		FROM execution_entries e
		JOIN (
			SELECT exec_id, MAX(id) AS max_id
			FROM execution_entries
			GROUP BY exec_id
		) latest ON latest.max_id = e.id
		ORDER BY e.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent executions: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*ExecutionEntry, error) {
	var entries []*ExecutionEntry
	for rows.Next() {
		var (
			e            ExecutionEntry
			result       sql.NullString
			recordedAtTS string
		)
		if err := rows.Scan(&e.ExecID, &e.ToolID, &e.Status, &result, &e.Principal, &recordedAtTS); err != nil {
			return nil, fmt.Errorf("scanning execution entry: %w", err)
		}
		if result.Valid {
			e.Result = []byte(result.String)
		}
		ts, err := time.Parse(time.RFC3339Nano, recordedAtTS)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", recordedAtTS, err)
		}
		e.RecordedAt = ts
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution entries: %w", err)
	}
	return entries, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
