package opsdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/logsink"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
}

func TestDrainHookPersistsLogEntries(t *testing.T) {
	db := openTestDB(t)
	hook := db.DrainHook()

	hook(logsink.Entry{Time: time.Now(), Message: "first"})
	hook(logsink.Entry{Time: time.Now(), Message: "second"})

	entries, err := db.RecentLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Message)
	require.Equal(t, "first", entries[1].Message)
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	in := map[string]string{"omega.position": "12.5", "zoom": "4"}
	require.NoError(t, db.SaveSnapshot(ctx, in))

	out, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, in, out)

	// A second save must fully replace the first, not accumulate.
	require.NoError(t, db.SaveSnapshot(ctx, map[string]string{"zoom": "5"}))
	out, err = db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"zoom": "5"}, out)
}

func TestRecordCommandAudit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordCommand(ctx, "moveAbs omega 10", nil))
	require.NoError(t, db.RecordCommand(ctx, "badcmd", errors.New("unknown command")))

	entries, err := db.RecentCommands(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "badcmd", entries[0].Line)
	require.False(t, entries[0].OK)
	require.Equal(t, "unknown command", entries[0].Error)
	require.Equal(t, "moveAbs omega 10", entries[1].Line)
	require.True(t, entries[1].OK)
}

type fakeSubmitter struct {
	lastLine string
	err      error
}

func (f *fakeSubmitter) Submit(line string) error {
	f.lastLine = line
	return f.err
}

func TestAuditingSubmitterRecordsOutcome(t *testing.T) {
	db := openTestDB(t)
	fake := &fakeSubmitter{err: errors.New("boom")}
	wrapped := &AuditingSubmitter{DB: db, Next: fake}

	err := wrapped.Submit("rotate")
	require.EqualError(t, err, "boom")
	require.Equal(t, "rotate", fake.lastLine)

	entries, err := db.RecentCommands(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "rotate", entries[0].Line)
	require.False(t, entries[0].OK)
}

func TestStatsReportsCounts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveSnapshot(ctx, map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, db.RecordCommand(ctx, "run seq", nil))
	db.DrainHook()(logsink.Entry{Time: time.Now(), Message: "hello"})

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.KVKeys)
	require.Equal(t, int64(1), stats.CommandAudits)
	require.Equal(t, int64(1), stats.LogEntries)
}
