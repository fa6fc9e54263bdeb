package opsdb

import (
	"context"
	"fmt"
	"time"
)

// SaveSnapshot persists a full key->value snapshot of kvmirror state,
// replacing whatever was stored previously. Called periodically so a
// restarted daemon has a best-effort view of prior state before the first
// hash-store sync completes.
func (db *DB) SaveSnapshot(ctx context.Context, kv map[string]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("opsdb: begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_snapshot`); err != nil {
		return fmt.Errorf("opsdb: clear kv_snapshot: %w", err)
	}

	now := time.Now().Format(time.RFC3339Nano)
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kv_snapshot (key, value, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("opsdb: prepare kv_snapshot insert: %w", err)
	}
	defer stmt.Close()

	for k, v := range kv {
		if _, err := stmt.ExecContext(ctx, k, v, now); err != nil {
			return fmt.Errorf("opsdb: insert kv_snapshot %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot returns the last persisted key->value snapshot.
func (db *DB) LoadSnapshot(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM kv_snapshot`)
	if err != nil {
		return nil, fmt.Errorf("opsdb: query kv_snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("opsdb: scan kv_snapshot: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
