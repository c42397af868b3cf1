package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/quorum/internal/config"
	_ "modernc.org/sqlite"
)

// MemoryPath keeps the journal in memory for the life of the process.
const MemoryPath = ":memory:"

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Each pooled connection to :memory: would see its own empty database.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
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

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			status      TEXT DEFAULT 'open',
			request_id  INTEGER,
			message     TEXT,
			supports    INTEGER DEFAULT 0,
			started_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			ended_at    DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			session_id  TEXT NOT NULL REFERENCES sessions(id),
			agent_id    INTEGER NOT NULL,
			role        TEXT NOT NULL,
			remote_addr TEXT,
			outcome     TEXT,
			joined_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			left_at     DATETIME,
			PRIMARY KEY (session_id, agent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			type        TEXT NOT NULL,
			agent_id    INTEGER,
			request_id  INTEGER,
			created_at  DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS lines (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			agent_id    INTEGER NOT NULL,
			content     TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lines_agent ON lines(session_id, agent_id, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
