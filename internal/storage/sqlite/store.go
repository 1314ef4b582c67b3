// Package sqlite provides SQLite-backed detection history and scan job storage.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
)

// Store wraps a SQLite database for history and job persistence.
type Store struct {
	db     *sql.DB
	logger *common.Logger

	history *historyStore
	jobs    *jobStore
}

// NewStore opens or creates the database file at path.
// A path without an extension is treated as a directory holding screen.db.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if path == "" {
		path = filepath.Join("data", "screen.db")
	}
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, "screen.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	s.history = &historyStore{db: db, logger: logger}
	s.jobs = &jobStore{db: db, logger: logger}

	logger.Info().Str("path", path).Msg("SQLite store opened")
	return s, nil
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detection_history (
			ticker      TEXT NOT NULL,
			detector    TEXT NOT NULL,
			detected_at INTEGER NOT NULL,
			score       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (ticker, detector)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_detected_at ON detection_history(detected_at DESC)`,
		`CREATE TABLE IF NOT EXISTS scan_jobs (
			id         TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			payload    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_started_at ON scan_jobs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_state ON scan_jobs(state)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// HistoryStore returns the detection history store
func (s *Store) HistoryStore() interfaces.HistoryStore { return s.history }

// ScanJobStore returns the scan job store
func (s *Store) ScanJobStore() interfaces.ScanJobStore { return s.jobs }

// Backend returns "sqlite"
func (s *Store) Backend() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ interfaces.StorageManager = (*Store)(nil)
