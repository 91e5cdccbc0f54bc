package sqlsnap

import (
	"context"
	"errors"
	"testing"

	"genomicore/internal/infra/persistence/memory"
	"genomicore/internal/infra/persistence/sqltest"
	"genomicore/pkg/domain"
)

type logLines struct{ info, errs []string }

func (l *logLines) Info(msg string, _ ...any)  { l.info = append(l.info, msg) }
func (l *logLines) Error(msg string, _ ...any) { l.errs = append(l.errs, msg) }

func TestWriterStaysDirtyUntilAWriteSucceeds(t *testing.T) {
	ctx := context.Background()
	db, conn := sqltest.NewStubDB()
	store := memory.NewStore(nil)
	w := NewWriter(db, SQLite, store.ExportState)
	logs := &logLines{}
	w.SetLogger(logs)

	if err := w.Flush(ctx); err != nil || len(conn.Execs) != 0 {
		t.Fatalf("clean flush must not write: %v %v", err, conn.Execs)
	}

	conn.FailUpsert = true
	if err := w.Write(ctx); !errors.Is(err, ErrNotPersisted) {
		t.Fatalf("expected ErrNotPersisted, got %v", err)
	}
	if !w.Dirty() || len(logs.errs) != 1 {
		t.Fatalf("expected dirty writer and one logged error, got %v %v", w.Dirty(), logs.errs)
	}

	conn.FailUpsert = false
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateJobRun(domain.JobRun{Kind: domain.JobAW1Ingestion, Status: domain.JobRunning})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if w.Dirty() || len(logs.info) != 1 {
		t.Fatalf("expected recovery to be logged once, got dirty=%v info=%v", w.Dirty(), logs.info)
	}
	if _, ok := conn.Payload("job_runs"); !ok {
		t.Fatalf("flush must write the current snapshot")
	}
	w.SetLogger(nil)
	conn.FailUpsert = true
	if err := w.Write(ctx); err == nil {
		t.Fatalf("expected failure with the silent logger")
	}
}
