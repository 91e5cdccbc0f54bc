package sqlsnap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"genomicore/internal/infra/persistence/memory"
)

// ErrNotPersisted wraps a snapshot failure after the in-memory commit
// already succeeded.
var ErrNotPersisted = errors.New("committed in memory but not persisted")

// Logger is the subset of the service logger the writer reports through.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type discard struct{}

func (discard) Info(string, ...any)  {}
func (discard) Error(string, ...any) {}

// Writer serialises snapshot writes for one database. A failed write marks
// the writer dirty until a later write of the full snapshot succeeds.
type Writer struct {
	db      *sql.DB
	dialect Dialect
	export  func() memory.Snapshot

	mu     sync.Mutex
	dirty  bool
	logger Logger
}

// NewWriter binds export, the source of the current state, to db.
func NewWriter(db *sql.DB, d Dialect, export func() memory.Snapshot) *Writer {
	return &Writer{db: db, dialect: d, export: export, logger: discard{}}
}

// SetLogger replaces the writer's logger. nil restores the silent default.
func (w *Writer) SetLogger(l Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if l == nil {
		l = discard{}
	}
	w.logger = l
}

// Write persists the current state.
func (w *Writer) Write(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(ctx)
}

// Flush writes only when an earlier write failed.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return nil
	}
	return w.write(ctx)
}

// Dirty reports whether the database lags the in-memory state.
func (w *Writer) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

func (w *Writer) write(ctx context.Context) error {
	if err := Persist(ctx, w.db, w.dialect, w.export()); err != nil {
		w.dirty = true
		w.logger.Error("snapshot write failed", "dialect", w.dialect.Name, "error", err)
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	if w.dirty {
		w.logger.Info("snapshot caught up", "dialect", w.dialect.Name)
	}
	w.dirty = false
	return nil
}
