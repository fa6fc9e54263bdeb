package opsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/md2ctl/md2d/internal/monitoring"
)

// RecordCommand appends one command-executor submission to the audit trail.
// cmdErr is nil for a successfully dispatched command.
func (db *DB) RecordCommand(ctx context.Context, line string, cmdErr error) error {
	ok := cmdErr == nil
	var errText interface{}
	if cmdErr != nil {
		errText = cmdErr.Error()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO command_audit (submitted_at, line, ok, error) VALUES (?, ?, ?, ?)`,
		time.Now().Format(time.RFC3339Nano), line, ok, errText,
	)
	if err != nil {
		return fmt.Errorf("opsdb: record command audit: %w", err)
	}
	return nil
}

// AuditEntry is one persisted command-executor submission.
type AuditEntry struct {
	ID          int64
	SubmittedAt time.Time
	Line        string
	OK          bool
	Error       string
}

// RecentCommands returns the most recent n audited submissions, newest first.
func (db *DB) RecentCommands(ctx context.Context, n int) ([]AuditEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, submitted_at, line, ok, COALESCE(error, '') FROM command_audit ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("opsdb: query command_audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var submittedAt string
		if err := rows.Scan(&e.ID, &submittedAt, &e.Line, &e.OK, &e.Error); err != nil {
			return nil, fmt.Errorf("opsdb: scan command_audit: %w", err)
		}
		e.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt)
		if err != nil {
			return nil, fmt.Errorf("opsdb: parse submitted_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Submitter is the narrow surface opsdb needs to wrap a command executor
// with audit logging — *md2cmds.Executor satisfies it directly.
type Submitter interface {
	Submit(line string) error
}

// AuditingSubmitter wraps a Submitter, recording every call (success or
// failure) into the audit trail before returning the underlying result.
type AuditingSubmitter struct {
	DB   *DB
	Next Submitter
}

// Submit dispatches line through the wrapped Submitter, auditing the
// outcome. An audit-write failure is logged, not returned, so a local-disk
// hiccup never blocks command dispatch.
func (a *AuditingSubmitter) Submit(line string) error {
	err := a.Next.Submit(line)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if auditErr := a.DB.RecordCommand(ctx, line, err); auditErr != nil {
		monitoring.Logf("opsdb: record command audit: %v", auditErr)
	}
	return err
}
