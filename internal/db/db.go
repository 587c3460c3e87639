// Package db persists sessions, samples, laps and performance events in
// a single sqlite database. The schema is managed by the embedded
// migrations in migrations/; *DB implements recorder.Store so the
// session recorder can flush straight into it.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups for sessions that do not exist.
var ErrNotFound = errors.New("db: not found")

type DB struct {
	*sql.DB

	path string
}

// Open opens (creating if necessary) the database at path and brings
// its schema up to date. This is the entry point for the recording and
// analysis binaries; use OpenDB when migrations must not run.
func Open(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenDB opens the database at path without touching the schema. The
// migrate CLI uses this so it can inspect a database before deciding
// what to run against it.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// A :memory: database exists per connection, so the pool must be
	// pinned to one connection or each query may see a different
	// empty database.
	if strings.Contains(path, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// dsn appends the connection pragmas to the database path. They ride
// on the DSN rather than a post-open Exec so that every pooled
// connection gets them, not just the first.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)" +
		"&_pragma=foreign_keys(ON)"
}
