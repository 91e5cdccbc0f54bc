// Package mysql provides a MySQL-backed persistent store. It follows the
// Postgres store: transactions run in memory and the committed state is
// snapshotted into a LONGBLOB bucket table.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"genomicore/internal/infra/persistence/memory"
	"genomicore/internal/infra/persistence/sqlsnap"
	"genomicore/pkg/domain"

	driver "github.com/go-sql-driver/mysql"
)

var _ domain.PersistentStore = (*Store)(nil)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to MySQL while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db     *sql.DB
	writer *sqlsnap.Writer
}

// NormalizeDSN parses a driver DSN and forces the options the snapshot
// table relies on.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.DBName == "" {
		cfg.DBName = "genomicore"
	}
	return cfg.FormatDSN(), nil
}

// NewStore opens a MySQL-backed store using the provided DSN.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	normalized, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	openMu.Lock()
	db, err := sqlOpen("mysql", normalized)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := sqlsnap.Ping(ctx, db); err != nil {
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if err := sqlsnap.EnsureTable(ctx, db, sqlsnap.MySQL); err != nil {
		return nil, err
	}
	snapshot, err := sqlsnap.Load(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	mem.ImportState(snapshot)
	st := &Store{Store: mem, db: db}
	st.writer = sqlsnap.NewWriter(db, sqlsnap.MySQL, mem.ExportState)
	return st, nil
}

// RunInTransaction applies fn in memory, then snapshots to MySQL if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.writer.Write(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error {
	return errors.Join(s.writer.Flush(context.Background()), s.db.Close())
}

// SetLogger routes snapshot failures to l.
func (s *Store) SetLogger(l sqlsnap.Logger) { s.writer.SetLogger(l) }

// Dirty reports whether the last snapshot write failed.
func (s *Store) Dirty() bool { return s.writer.Dirty() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
