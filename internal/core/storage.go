package core

import (
	"fmt"

	"objectcore/internal/infra/persistence/memory"
	"objectcore/internal/infra/persistence/postgres"
	"objectcore/internal/infra/persistence/sqlite"
	"objectcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterizes a persistence backend. The CLI
// populates it from flags and OBJECTCORE_* environment variables.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the backend named by the config. An empty driver
// defaults to sqlite; each backend applies its own default location when the
// path or DSN is empty.
func OpenPersistentStore(cfg StorageConfig) (domain.PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
