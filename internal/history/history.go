// Package history keeps a SQLite ledger of every media item a run handled.
package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	base_dir    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS items (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	line      INTEGER NOT NULL,
	url       TEXT NOT NULL,
	dest      TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	attempts  INTEGER NOT NULL,
	bytes     INTEGER NOT NULL,
	error     TEXT NOT NULL DEFAULT '',
	at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS items_dest ON items(dest);
`

// Item is one recorded outcome.
type Item struct {
	RunID    string
	Line     int
	URL      string
	Dest     string
	Outcome  string
	Attempts int
	Bytes    int64
	Err      string
	At       time.Time
}

// Store is a handle on the ledger database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, id, source, baseDir string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, base_dir, started_at) VALUES (?, ?, ?, ?)`,
		id, source, baseDir, at.UTC().Format(time.RFC3339Nano))
	return err
}

// FinishRun stamps the end of a run.
func (s *Store) FinishRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE id = ?`, at.UTC().Format(time.RFC3339Nano), id)
	return err
}

// Record appends one item outcome.
func (s *Store) Record(ctx context.Context, it Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (run_id, line, url, dest, outcome, attempts, bytes, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Line, it.URL, it.Dest, it.Outcome, it.Attempts, it.Bytes, it.Err,
		it.At.UTC().Format(time.RFC3339Nano))
	return err
}

// Items returns the items of run in insertion order.
func (s *Store) Items(ctx context.Context, runID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, line, url, dest, outcome, attempts, bytes, error, at
		 FROM items WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		var at string
		if err := rows.Scan(&it.RunID, &it.Line, &it.URL, &it.Dest, &it.Outcome, &it.Attempts, &it.Bytes, &it.Err, &at); err != nil {
			return nil, err
		}
		it.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, it)
	}
	return out, rows.Err()
}

// LastOutcome returns the most recent outcome recorded for dest, or "" if none.
func (s *Store) LastOutcome(ctx context.Context, dest string) (string, error) {
	var outcome string
	err := s.db.QueryRowContext(ctx,
		`SELECT outcome FROM items WHERE dest = ? ORDER BY id DESC LIMIT 1`, dest).Scan(&outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return outcome, err
}
