package core

import (
	"context"
	"fmt"

	"genomicore/internal/infra/persistence/memory"
	"genomicore/internal/infra/persistence/mysql"
	"genomicore/internal/infra/persistence/postgres"
	"genomicore/internal/infra/persistence/sqlite"
	"genomicore/internal/infra/persistence/sqlsnap"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageMySQL    StorageDriver = "mysql"    // MySQL server
)

// StorageConfig selects and configures a persistence backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	MySQLDSN    string
	// Logger receives snapshot write failures of the SQL backends.
	Logger Logger
}

// OpenPersistentStore selects a backend from cfg. An empty driver means sqlite.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *RulesEngine, opts ...memory.Option) (PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	var store snapshotStore
	var err error
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		store, err = sqlite.NewStore(cfg.SQLitePath, engine, opts...)
	case StoragePostgres:
		store, err = postgres.NewStore(ctx, cfg.PostgresDSN, engine, opts...)
	case StorageMySQL:
		store, err = mysql.NewStore(ctx, cfg.MySQLDSN, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		store.SetLogger(cfg.Logger)
	}
	return store, nil
}

type snapshotStore interface {
	PersistentStore
	SetLogger(sqlsnap.Logger)
}
