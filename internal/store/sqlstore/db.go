// Package sqlstore implements the stores on database/sql, against either
// SQLite (modernc.org/sqlite, no cgo) or Postgres (pgx stdlib driver).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DB wraps *sql.DB with the placeholder dialect of its driver.
type DB struct {
	db       *sql.DB
	postgres bool
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between goroutines of one process.
	db.SetMaxOpenConns(1)
	return &DB{db: db}, nil
}

// OpenPostgres opens a Postgres pool through the pgx stdlib driver.
func OpenPostgres(dsn string) (*DB, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &DB{db: db, postgres: true}, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error { return d.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(query string) string {
	if !d.postgres {
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

func (d *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pairing_requests (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		code TEXT NOT NULL,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		last_seen_at BIGINT NOT NULL,
		UNIQUE (provider, sender_id)
	)`,
	`CREATE TABLE IF NOT EXISTS pairing_allow_from (
		provider TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (provider, sender_id)
	)`,
	`CREATE TABLE IF NOT EXISTS last_routes (
		session_key TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		target TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL
	)`,
}

// EnsureSchema creates the tables when they do not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// NewSQLStores wires both stores onto d; closing the bundle closes d.
func NewSQLStores(d *DB) *store.Stores {
	return store.NewStores(NewSQLPairingStore(d), NewSQLRouteStore(d), d.Close)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
