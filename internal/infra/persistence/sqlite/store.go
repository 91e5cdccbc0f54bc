// Package sqlite provides a snapshotting SQLite-backed persistent store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"genomicore/internal/infra/persistence/memory"
	"genomicore/internal/infra/persistence/sqlsnap"
	"genomicore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to a single SQLite table as JSON blobs.
// It snapshots the full state after every successful transaction.
type Store struct {
	*memory.Store
	db     *sql.DB
	writer *sqlsnap.Writer
	path   string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "genomicore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	ctx := context.Background()
	if err := sqlsnap.EnsureTable(ctx, db, sqlsnap.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqlsnap.Load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	mem.ImportState(snapshot)
	st := &Store{Store: mem, db: db, path: path}
	st.writer = sqlsnap.NewWriter(db, sqlsnap.SQLite, mem.ExportState)
	return st, nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots state to SQLite if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	return errors.Join(s.writer.Flush(context.Background()), s.db.Close())
}

// SetLogger routes snapshot failures to l.
func (s *Store) SetLogger(l sqlsnap.Logger) { s.writer.SetLogger(l) }

// Dirty reports whether the last snapshot write failed.
func (s *Store) Dirty() bool { return s.writer.Dirty() }
