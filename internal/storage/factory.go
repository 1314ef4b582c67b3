// Package storage selects and opens the configured persistence backend.
package storage

import (
	"fmt"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/storage/badger"
	"github.com/bobmcallan/vire-screen/internal/storage/sqlite"
	"github.com/bobmcallan/vire-screen/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendBadger    = "badger"
	BackendSurrealDB = "surrealdb"
	BackendSQLite    = "sqlite"
)

// NewStorageManager opens the storage backend named in the configuration.
// Supported backends: "badger" (default), "surrealdb", "sqlite".
func NewStorageManager(logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendBadger
	}

	var (
		mgr interfaces.StorageManager
		err error
	)
	switch backend {
	case BackendBadger:
		mgr, err = openBadger(logger, config.Storage.Path)

	case BackendSurrealDB:
		mgr, err = openSurrealDB(logger, config)

	case BackendSQLite:
		mgr, err = openSQLite(logger, config.Storage.Path)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: badger, surrealdb, sqlite)", backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("backend", mgr.Backend()).Msg("Storage opened")
	return mgr, nil
}

// Each opener returns a nil interface on failure rather than a typed nil pointer
func openBadger(logger *common.Logger, path string) (interfaces.StorageManager, error) {
	s, err := badger.NewStore(logger, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openSurrealDB(logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	m, err := surrealdb.NewManager(logger, config)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func openSQLite(logger *common.Logger, path string) (interfaces.StorageManager, error) {
	s, err := sqlite.NewStore(logger, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
