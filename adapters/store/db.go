package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported SQL drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Capabilities describes optional schema features detected at open time
type Capabilities struct {
	ChainSyncPending bool
}

// DB wraps a relational database shared by the SQL stores
type DB struct {
	db     *sql.DB
	driver string
	caps   Capabilities
}

// Open connects to the database and probes its schema.
// Migrations are not applied; call Migrate for that.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	if driver == DriverSQLite {
		// modernc connections do not share an in-process write lock
		conn.SetMaxOpenConns(1)
	}

	d, err := NewDB(ctx, conn, driver)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// NewDB wraps an existing connection pool
func NewDB(ctx context.Context, conn *sql.DB, driver string) (*DB, error) {
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	d := &DB{db: conn, driver: driver}
	if err := d.probe(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Capabilities returns the schema features found by the last probe
func (d *DB) Capabilities() Capabilities {
	return d.caps
}

// SQL exposes the underlying pool
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Driver returns the driver name the pool was opened with
func (d *DB) Driver() string {
	return d.driver
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) probe(ctx context.Context) error {
	var query string
	switch d.driver {
	case DriverSQLite:
		query = `SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'chain_sync_pending'`
	default:
		query = `SELECT COUNT(*) FROM information_schema.columns WHERE table_name = 'users' AND column_name = 'chain_sync_pending'`
	}

	var n int
	if err := d.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return fmt.Errorf("probing schema: %w", err)
	}
	d.caps.ChainSyncPending = n > 0
	return nil
}

// rebind rewrites ? placeholders to $n for postgres
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, q execer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, q execer, query string, args ...interface{}) *sql.Row {
	return q.QueryRowContext(ctx, d.rebind(query), args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// isUniqueViolation reports whether err is a unique or primary key violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}

	return false
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
