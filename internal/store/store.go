package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rdeforest/ClodWeave/internal/config"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Backup writes a consistent copy of the database to path.
func (s *Store) Backup(path string) error {
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS coordinator_runs (
			id           TEXT PRIMARY KEY,
			coordinator  TEXT NOT NULL,
			mode         TEXT NOT NULL,
			method       TEXT NOT NULL,
			params       TEXT,
			status       TEXT DEFAULT 'running',
			result       TEXT,
			error        TEXT,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at  DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_coordinator ON coordinator_runs(coordinator, started_at)`,
		`CREATE TABLE IF NOT EXISTS component_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			component    TEXT NOT NULL,
			type         TEXT NOT NULL,
			data         TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_component ON component_events(component, created_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name         TEXT PRIMARY KEY,
			description  TEXT,
			value        BLOB NOT NULL,
			nonce        BLOB NOT NULL,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id           TEXT PRIMARY KEY,
			coordinator  TEXT NOT NULL,
			name         TEXT NOT NULL,
			schedule     TEXT NOT NULL,
			mode         TEXT,
			method       TEXT,
			params       TEXT,
			status       TEXT DEFAULT 'active',
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_status  TEXT,
			last_error   TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func rawOrNil(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
