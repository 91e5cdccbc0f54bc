// Package sqltest provides an in-process database/sql driver that keeps the
// snapshot "state" table in memory for the SQL store tests.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// StubConn holds the state table and the statements issued against it.
type StubConn struct {
	mu    sync.Mutex
	Execs []string
	// State maps bucket name to its JSON payload.
	State map[string][]byte

	FailExec   bool // every ping and statement fails
	FailUpsert bool
	FailBegin  bool
	FailCommit bool
	RowsErr    error
}

var registered uint64

// NewStubDB registers a fresh driver and returns a sql.DB bound to it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{State: make(map[string][]byte)}
	name := fmt.Sprintf("sqltest-%d", atomic.AddUint64(&registered, 1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Payload returns a copy of the stored payload for bucket.
func (c *StubConn) Payload(bucket string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.State[bucket]
	return append([]byte(nil), p...), ok
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; every statement goes through the context
// methods instead.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("sqltest: prepared statements are not supported")
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return fmt.Errorf("sqltest: ping failed")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("sqltest: begin failed")
	}
	return stubTx{conn: c}, nil
}

// ExecContext accepts the state table DDL and the bucket upsert.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("sqltest: exec failed")
	}
	stmt := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	switch {
	case strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS STATE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(stmt, "INSERT INTO STATE(BUCKET,PAYLOAD)"):
	default:
		return nil, fmt.Errorf("sqltest: unsupported statement %q", query)
	}
	if c.FailUpsert {
		return nil, fmt.Errorf("sqltest: upsert failed")
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("sqltest: state insert wants 2 args, got %d", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("sqltest: bucket must be a string, got %T", args[0].Value)
	}
	upsert := strings.Contains(stmt, "ON CONFLICT") || strings.Contains(stmt, "ON DUPLICATE KEY")
	if _, exists := c.State[bucket]; exists && !upsert {
		return nil, fmt.Errorf("sqltest: duplicate bucket %q", bucket)
	}
	var payload []byte
	switch v := args[1].Value.(type) {
	case []byte:
		payload = append([]byte(nil), v...)
	case string:
		payload = []byte(v)
	case nil:
	default:
		return nil, fmt.Errorf("sqltest: payload must be bytes, got %T", v)
	}
	c.State[bucket] = payload
	return driver.RowsAffected(1), nil
}

// QueryContext serves the snapshot load, ordered by bucket.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.ToUpper(strings.Join(strings.Fields(query), " ")) != "SELECT BUCKET, PAYLOAD FROM STATE" {
		return nil, fmt.Errorf("sqltest: unsupported query %q", query)
	}
	if c.FailExec {
		return nil, fmt.Errorf("sqltest: query failed")
	}
	buckets := make([]string, 0, len(c.State))
	for b := range c.State {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	rows := &stubRows{err: c.RowsErr}
	for _, b := range buckets {
		rows.rows = append(rows.rows, []driver.Value{b, append([]byte(nil), c.State[b]...)})
	}
	return rows, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("sqltest: commit failed")
	}
	return nil
}

func (stubTx) Rollback() error { return nil }

type stubRows struct {
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
