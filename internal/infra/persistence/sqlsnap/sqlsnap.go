// Package sqlsnap stores memory.Store snapshots as one JSON payload per
// bucket in a single "state" table. The SQL backends share it so that only
// dialect differences live in each driver package.
package sqlsnap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"genomicore/internal/infra/persistence/memory"

	"github.com/cenkalti/backoff/v4"
)

// Dialect holds the statements that differ between SQL engines.
type Dialect struct {
	Name        string
	CreateTable string
	Upsert      string
}

var (
	// SQLite targets modernc.org/sqlite.
	SQLite = Dialect{
		Name: "sqlite",
		CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	}
	// Postgres targets pgx through database/sql.
	Postgres = Dialect{
		Name: "postgres",
		CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
	}
	// MySQL targets go-sql-driver/mysql.
	MySQL = Dialect{
		Name: "mysql",
		CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket VARCHAR(64) PRIMARY KEY,
		payload LONGBLOB NOT NULL
	)`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON DUPLICATE KEY UPDATE payload=VALUES(payload)`,
	}
)

// EnsureTable creates the state table when missing.
func EnsureTable(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, d.CreateTable); err != nil {
		return fmt.Errorf("ensure %s state table: %w", d.Name, err)
	}
	return nil
}

// Load reads every bucket row into a snapshot. Empty payloads are skipped.
func Load(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

// Persist upserts every bucket of the snapshot inside one SQL transaction.
func Persist(ctx context.Context, db *sql.DB, d Dialect, snapshot memory.Snapshot) error {
	payloads, err := snapshot.BucketPayloads()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.Buckets {
		if _, err := tx.ExecContext(ctx, d.Upsert, bucket, payloads[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// PingBackOff returns the retry policy used while a database server starts.
var PingBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return b
}

// Ping retries db.PingContext until it succeeds, the policy gives up, or ctx ends.
func Ping(ctx context.Context, db *sql.DB) error {
	return backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(PingBackOff(), ctx))
}
