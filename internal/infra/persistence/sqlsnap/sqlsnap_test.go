package sqlsnap

import (
	"context"
	"strings"
	"testing"

	"genomicore/internal/infra/persistence/memory"
	"genomicore/internal/infra/persistence/sqltest"
	"genomicore/pkg/domain"
)

func TestPersistAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, conn := sqltest.NewStubDB()
	if err := EnsureTable(ctx, db, Postgres); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateJobRun(domain.JobRun{Kind: domain.JobAW1Ingestion, Status: domain.JobRunning})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := Persist(ctx, db, Postgres, store.ExportState()); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := Persist(ctx, db, Postgres, store.ExportState()); err != nil {
		t.Fatalf("persist twice: %v", err)
	}
	if got := len(conn.State); got != len(memory.Buckets) {
		t.Fatalf("expected one row per bucket, got %d", got)
	}

	snapshot, err := Load(ctx, db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snapshot.JobRuns) != 1 {
		t.Fatalf("expected job run in loaded snapshot, got %d", len(snapshot.JobRuns))
	}
}

func TestPersistFailuresRollBack(t *testing.T) {
	ctx := context.Background()
	db, conn := sqltest.NewStubDB()
	conn.FailUpsert = true
	err := Persist(ctx, db, MySQL, memory.NewStore(nil).ExportState())
	if err == nil || !strings.Contains(err.Error(), "upsert") {
		t.Fatalf("expected upsert failure, got %v", err)
	}

	db2, conn2 := sqltest.NewStubDB()
	conn2.FailCommit = true
	if err := Persist(ctx, db2, SQLite, memory.NewStore(nil).ExportState()); err == nil {
		t.Fatalf("expected commit failure")
	}
}

func TestLoadSurfacesDecodeErrors(t *testing.T) {
	db, conn := sqltest.NewStubDB()
	conn.State["incidents"] = []byte("{")
	if _, err := Load(context.Background(), db); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDialectsUseDistinctUpserts(t *testing.T) {
	if !strings.Contains(MySQL.Upsert, "ON DUPLICATE KEY") {
		t.Fatalf("mysql upsert must use ON DUPLICATE KEY")
	}
	if !strings.Contains(Postgres.Upsert, "$1") || !strings.Contains(SQLite.Upsert, "?") {
		t.Fatalf("unexpected placeholder style")
	}
}
