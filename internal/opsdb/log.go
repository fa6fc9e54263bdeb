package opsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/md2ctl/md2d/internal/logsink"
	"github.com/md2ctl/md2d/internal/monitoring"
)

// DrainHook returns a logsink.Drain callback that persists each entry into
// the log_entries table. Wire it via logsink.Sink's drain registration so
// the ring buffer's tail survives process restarts.
func (db *DB) DrainHook() func(logsink.Entry) {
	return func(e logsink.Entry) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := db.ExecContext(ctx,
			`INSERT INTO log_entries (logged_at, message) VALUES (?, ?)`,
			e.Time.Format(time.RFC3339Nano), e.Message,
		); err != nil {
			monitoring.Logf("opsdb: persist log entry: %v", err)
		}
	}
}

// LogEntry is a persisted log ring entry.
type LogEntry struct {
	ID      int64
	Time    time.Time
	Message string
}

// RecentLogs returns the most recent n persisted log entries, newest first.
func (db *DB) RecentLogs(ctx context.Context, n int) ([]LogEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, logged_at, message FROM log_entries ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("opsdb: query log_entries: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var loggedAt string
		if err := rows.Scan(&e.ID, &loggedAt, &e.Message); err != nil {
			return nil, fmt.Errorf("opsdb: scan log_entries: %w", err)
		}
		e.Time, err = time.Parse(time.RFC3339Nano, loggedAt)
		if err != nil {
			return nil, fmt.Errorf("opsdb: parse logged_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
