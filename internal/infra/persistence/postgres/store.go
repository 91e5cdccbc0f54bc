// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics and snapshots committed state into a JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"genomicore/internal/infra/persistence/memory"
	"genomicore/internal/infra/persistence/sqlsnap"
	"genomicore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/genomicore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db     *sql.DB
	writer *sqlsnap.Writer
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It waits for the server, ensures the snapshot table exists, and hydrates the
// in-memory store from any existing snapshot.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqlsnap.Ping(ctx, db); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlsnap.EnsureTable(ctx, db, sqlsnap.Postgres); err != nil {
		return nil, err
	}
	snapshot, err := sqlsnap.Load(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	mem.ImportState(snapshot)
	st := &Store{Store: mem, db: db}
	st.writer = sqlsnap.NewWriter(db, sqlsnap.Postgres, mem.ExportState)
	return st, nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots to Postgres if successful.
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

// DB exposes the underlying sql.DB for integration testing hooks.
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
