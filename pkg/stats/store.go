// Package stats persists one row per accept attempt, successful or
// failed, so operators can see connection-level TLS failures in
// aggregate.
package stats

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snigate/snigate/internal/errx"
	"github.com/snigate/snigate/pkg/api"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create accepts",
		SQL: `
CREATE TABLE accepts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  connection_id TEXT NOT NULL,
  hostname TEXT NOT NULL,
  port INTEGER NOT NULL,
  peer_address TEXT NOT NULL DEFAULT '',
  process_name TEXT NOT NULL DEFAULT '',
  error_class TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX idx_accepts_ts ON accepts(ts);
CREATE INDEX idx_accepts_hostname ON accepts(hostname);
`,
	},
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, ErrDBPathRequired
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errx.Wrap(ErrOpenDB, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errx.Wrap(ErrOpenDB, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 15000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errx.With(ErrConfigureDB, ": %s: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`); err != nil {
		return errx.Wrap(ErrMigrateDB, err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return errx.Wrap(ErrMigrateDB, err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return errx.Wrap(ErrMigrateDB, err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errx.Wrap(ErrMigrateDB, err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errx.Wrap(ErrMigrateDB, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return errx.With(ErrMigrateDB, ": %d %s: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return errx.With(ErrMigrateDB, ": record %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return errx.Wrap(ErrMigrateDB, err)
		}
	}
	return nil
}

// Record inserts one accept-attempt row.
func (s *Store) Record(rec *api.AcceptRecord) error {
	_, err := s.db.Exec(`
INSERT INTO accepts(ts, connection_id, hostname, port, peer_address, process_name, error_class, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.ConnectionID,
		rec.Hostname,
		rec.Port,
		rec.PeerAddress,
		rec.ProcessName,
		string(rec.ErrorClass),
		rec.Error,
	)
	if err != nil {
		return errx.Wrap(ErrInsertRecord, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]api.AcceptRecord, error) {
	rows, err := s.db.Query(`
SELECT ts, connection_id, hostname, port, peer_address, process_name, error_class, error
FROM accepts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errx.Wrap(ErrQueryRecords, err)
	}
	defer rows.Close()

	var recs []api.AcceptRecord
	for rows.Next() {
		var rec api.AcceptRecord
		var ts, class string
		if err := rows.Scan(&ts, &rec.ConnectionID, &rec.Hostname, &rec.Port,
			&rec.PeerAddress, &rec.ProcessName, &class, &rec.Error); err != nil {
			return nil, errx.Wrap(ErrQueryRecords, err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		rec.ErrorClass = api.ErrorClass(class)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.Wrap(ErrQueryRecords, err)
	}
	return recs, nil
}

// ClassCount is the aggregate view the stats CLI prints.
type ClassCount struct {
	ErrorClass api.ErrorClass
	Count      int
}

// Summary returns per-error-class accept counts; the empty class counts
// successful handshakes.
func (s *Store) Summary() ([]ClassCount, error) {
	rows, err := s.db.Query(`
SELECT error_class, COUNT(*) FROM accepts GROUP BY error_class ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, errx.Wrap(ErrQueryRecords, err)
	}
	defer rows.Close()

	var counts []ClassCount
	for rows.Next() {
		var cc ClassCount
		var class string
		if err := rows.Scan(&class, &cc.Count); err != nil {
			return nil, errx.Wrap(ErrQueryRecords, err)
		}
		cc.ErrorClass = api.ErrorClass(class)
		counts = append(counts, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.Wrap(ErrQueryRecords, err)
	}
	return counts, nil
}

func (s *Store) Close() error { return s.db.Close() }
