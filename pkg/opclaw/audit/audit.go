// Package audit keeps a SQLite record of every synthesized action program:
// who asked for it, what ran and how it ended. Entries older than the
// retention window are pruned by a cron job.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// Verdict is how a synthesized program ended.
type Verdict string

const (
	// VerdictRejected means the safety filter refused the program.
	VerdictRejected Verdict = "rejected"

	// VerdictSucceeded means every step ran.
	VerdictSucceeded Verdict = "succeeded"

	// VerdictFailed means parsing, validation or a step failed, or it timed out.
	VerdictFailed Verdict = "failed"
)

const (
	// maxSourceLen bounds stored program text.
	maxSourceLen = 8000

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
    id          TEXT PRIMARY KEY,
    operator    TEXT NOT NULL,
    description TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    verdict     TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit(created_at);
`

// Entry is one audited program.
type Entry struct {
	ID          string
	Operator    string
	Description string
	Source      string
	Verdict     Verdict
	Error       string
	Duration    time.Duration
	CreatedAt   time.Time
}

// Store writes audit entries to SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the audit database at path in WAL mode.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = "./data/opclaw.db"
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}, nil
}

// Record stores e. Failures are logged, never returned.
func (s *Store) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if len(e.Source) > maxSourceLen {
		e.Source = e.Source[:maxSourceLen] + "...[truncated]"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (id, operator, description, source, verdict, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Operator, e.Description, e.Source, string(e.Verdict), e.Error,
		e.Duration.Milliseconds(), e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		s.logger.Warn("failed to write audit entry", "id", e.ID, "verdict", e.Verdict, "error", err)
	}
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operator, description, source, verdict, error, duration_ms, created_at
		FROM audit
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			verdict    string
			durationMs int64
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.Operator, &e.Description, &e.Source, &verdict, &e.Error, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Verdict = Verdict(verdict)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than olderThan and returns how many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) int {
	var count int
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit").Scan(&count)
	return count
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
