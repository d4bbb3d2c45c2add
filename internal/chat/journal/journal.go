// Package journal is a local SQLite-backed record of run lifecycle and
// reconciliation outcomes. It exists for diagnostics and offline replay;
// the transcript itself is never reconstructed from it (the gateway's
// history is authoritative).
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds written by the engine. Delta frames are deliberately not
// journaled; they are noise at this layer.
const (
	KindRunStarted       = "run_started"
	KindRunFinal         = "run_final"
	KindRunAborted       = "run_aborted"
	KindRunError         = "run_error"
	KindForeignRunFinal  = "foreign_run_final"
	KindSendFailed       = "send_failed"
	KindHistoryReplaced  = "history_replaced"
	KindHistoryStale     = "history_stale"
	KindHistoryDiscarded = "history_discarded"
)

type Store struct {
	db *sql.DB
}

type Record struct {
	ID         int64  `json:"id"`
	SessionKey string `json:"session_key"`
	RunID      string `json:"run_id"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
	AtUnixMs   int64  `json:"at_unix_ms"`
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rec.SessionKey = strings.TrimSpace(rec.SessionKey)
	rec.RunID = strings.TrimSpace(rec.RunID)
	rec.Kind = strings.TrimSpace(rec.Kind)
	if rec.SessionKey == "" || rec.Kind == "" {
		return errors.New("invalid record")
	}
	if rec.AtUnixMs <= 0 {
		rec.AtUnixMs = time.Now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_events(session_key, run_id, kind, detail, at_unix_ms)
VALUES(?, ?, ?, ?, ?)
`, rec.SessionKey, rec.RunID, rec.Kind, rec.Detail, rec.AtUnixMs)
	return err
}

// List returns the most recent records for a session, newest first.
func (s *Store) List(ctx context.Context, sessionKey string, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, errors.New("missing session_key")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_key, run_id, kind, detail, at_unix_ms
FROM run_events
WHERE session_key = ?
ORDER BY id DESC
LIMIT ?
`, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.RunID, &r.Kind, &r.Detail, &r.AtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records older than the cutoff, returning how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_events WHERE at_unix_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS run_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_key TEXT NOT NULL,
  run_id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_session ON run_events(session_key, id DESC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
