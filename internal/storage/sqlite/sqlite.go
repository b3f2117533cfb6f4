// Package sqlite stores the ledger journal in a single SQLite file, for
// hosts that run without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"carbon-ledger/internal/observability"
)

// DB wraps a SQLite database handle.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(FULL)")
	}

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; the ledger already serialises appends.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Exec runs a statement that returns no rows. Used by migrations.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// isDuplicateKeyError checks if error is a primary key or unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// observe records query latency and failures.
func observe(operation string, start time.Time, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	observability.RecordDBQuery("sqlite", operation, time.Since(start).Seconds(), err)
}
