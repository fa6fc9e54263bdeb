// Package opsdb is the daemon's local operational store: a single-file
// SQLite database, distinct from the external experiment database
// sqlgateway talks to, holding the log ring's durable tail, a snapshot of
// kvmirror state, and an audit trail of submitted commands. It is exposed
// read-only over tailnet via tailsql.
package opsdb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the local operational SQLite connection.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the operational database at path and
// brings its schema up to date.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("opsdb: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1) // single-writer sqlite file; avoid SQLITE_BUSY under concurrent writers

	db := &DB{DB: sqlDB}
	if err := db.MigrateUp(migrationsFS); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Stats is a point-in-time summary of the operational store's contents, for
// the JSON debug endpoint.
type Stats struct {
	LogEntries    int64     `json:"log_entries"`
	KVKeys        int64     `json:"kv_keys"`
	CommandAudits int64     `json:"command_audits"`
	AsOf          time.Time `json:"as_of"`
}

// Stats reports row counts across the operational tables.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	s := Stats{AsOf: time.Now()}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_entries`).Scan(&s.LogEntries); err != nil {
		return Stats{}, fmt.Errorf("opsdb: count log_entries: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_snapshot`).Scan(&s.KVKeys); err != nil {
		return Stats{}, fmt.Errorf("opsdb: count kv_snapshot: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_audit`).Scan(&s.CommandAudits); err != nil {
		return Stats{}, fmt.Errorf("opsdb: count command_audit: %w", err)
	}
	return s, nil
}
