// Package history keeps a sqlite ledger of export runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the outcome of an export run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Entry is one export run.
type Entry struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Checkpoint string    `json:"checkpoint"`
	Format     string    `json:"format"`
	Opset      int       `json:"opset"`
	Artifact   string    `json:"artifact,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store is the export ledger. It serializes access through a single connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS exports (
  id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  checkpoint TEXT NOT NULL,
  format TEXT NOT NULL,
  opset INTEGER NOT NULL DEFAULT 0,
  artifact TEXT NOT NULL DEFAULT '',
  size_bytes INTEGER NOT NULL DEFAULT 0,
  sha256 TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS exports_checkpoint_format ON exports(checkpoint, format, finished_at);
`)
	return err
}

// Record stores e, assigning an ID when it has none.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		return errors.New("history: entry has no status")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO exports(id, started_at, finished_at, checkpoint, format, opset, artifact, size_bytes, sha256, status, error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(), e.Checkpoint, e.Format, e.Opset,
		e.Artifact, e.SizeBytes, e.SHA256, string(e.Status), e.Error)
	if err != nil {
		return fmt.Errorf("failed to record export %s: %w", e.ID, err)
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, checkpoint, format, opset, artifact, size_bytes, sha256, status, error
FROM exports ORDER BY finished_at DESC, rowid DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Last returns the newest entry for checkpoint and format.
func (s *Store) Last(ctx context.Context, checkpoint, format string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, started_at, finished_at, checkpoint, format, opset, artifact, size_bytes, sha256, status, error
FROM exports WHERE checkpoint=? AND format=? ORDER BY finished_at DESC, rowid DESC LIMIT 1;
`, checkpoint, format)

	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", checkpoint, format, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (Entry, error) {
	var (
		e                 Entry
		started, finished int64
		status            string
	)
	err := r.Scan(&e.ID, &started, &finished, &e.Checkpoint, &e.Format, &e.Opset,
		&e.Artifact, &e.SizeBytes, &e.SHA256, &status, &e.Error)
	if err != nil {
		return Entry{}, err
	}

	e.StartedAt = time.UnixMilli(started).UTC()
	e.FinishedAt = time.UnixMilli(finished).UTC()
	e.Status = Status(status)
	return e, nil
}
