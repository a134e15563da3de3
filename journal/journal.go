// Package journal keeps a local SQLite history of push-to-talk cycles.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cycle is one finished push-to-talk cycle.
type Cycle struct {
	ID         string
	StartedAt  time.Time
	Phase      string // Furthest phase reached, e.g. "INJECTING"
	Outcome    string // "ok", "too_short" or an error kind
	Backend    string
	Cached     bool
	Text       string // Only stored when text storage is enabled
	Capture    time.Duration
	Transcribe time.Duration
	Inject     time.Duration
	Dropped    int
}

// Options configures the journal.
type Options struct {
	Path          string
	RetentionDays int  // 0 keeps everything
	StoreText     bool // Persist transcript text
}

// Store wraps the SQLite cycle journal.
type Store struct {
	db    *sql.DB
	opts  Options
	clock func() time.Time
}

// Open initializes the journal, creating the schema and pruning old rows.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dir := filepath.Dir(opts.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, opts: opts, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	if _, err := s.Prune(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("prune journal: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    phase TEXT NOT NULL,
    outcome TEXT NOT NULL,
    backend TEXT,
    cached INTEGER NOT NULL DEFAULT 0,
    text TEXT,
    capture_ms INTEGER NOT NULL DEFAULT 0,
    transcribe_ms INTEGER NOT NULL DEFAULT 0,
    inject_ms INTEGER NOT NULL DEFAULT 0,
    dropped INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record writes a cycle.
func (s *Store) Record(ctx context.Context, c Cycle) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = s.clock()
	}
	text := ""
	if s.opts.StoreText {
		text = c.Text
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(id, started_at, phase, outcome, backend, cached, text, capture_ms, transcribe_ms, inject_ms, dropped)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt.UnixMilli(), c.Phase, c.Outcome, c.Backend, c.Cached, text,
		c.Capture.Milliseconds(), c.Transcribe.Milliseconds(), c.Inject.Milliseconds(), c.Dropped)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit cycles, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, phase, outcome, COALESCE(backend, ''), cached, COALESCE(text, ''),
		        capture_ms, transcribe_ms, inject_ms, dropped
		 FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var (
			c                           Cycle
			started, capMs, trMs, injMs int64
		)
		if err := rows.Scan(&c.ID, &started, &c.Phase, &c.Outcome, &c.Backend, &c.Cached, &c.Text,
			&capMs, &trMs, &injMs, &c.Dropped); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.StartedAt = time.UnixMilli(started)
		c.Capture = time.Duration(capMs) * time.Millisecond
		c.Transcribe = time.Duration(trMs) * time.Millisecond
		c.Inject = time.Duration(injMs) * time.Millisecond
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// Prune deletes cycles older than the retention window and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.opts.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clock().Add(-time.Duration(s.opts.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
