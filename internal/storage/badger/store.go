// Package badger provides BadgerHold-backed detection history and scan job storage.
package badger

import (
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
)

// Store wraps a BadgerHold database connection.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger

	history *historyStorage
	jobs    *jobStorage
}

// NewStore opens (or creates) a BadgerHold store at the given directory path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Info().Str("path", path).Msg("BadgerHold store opened")

	s := &Store{db: db, logger: logger}
	s.history = newHistoryStorage(s, logger)
	s.jobs = newJobStorage(s, logger)
	return s, nil
}

// HistoryStore returns the detection history store
func (s *Store) HistoryStore() interfaces.HistoryStore {
	return s.history
}

// ScanJobStore returns the scan job store
func (s *Store) ScanJobStore() interfaces.ScanJobStore {
	return s.jobs
}

// Backend returns "badger"
func (s *Store) Backend() string {
	return "badger"
}

// Close closes the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Store)(nil)
