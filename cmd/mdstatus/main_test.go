package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/opsdb"
)

func TestAuditOutcomeChartHandlesEmptyInput(t *testing.T) {
	bar := auditOutcomeChart(nil)
	require.NotNil(t, bar)
}

func TestLogVolumeChartBucketsByMinute(t *testing.T) {
	base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	logs := []opsdb.LogEntry{
		{Time: base, Message: "a"},
		{Time: base.Add(10 * time.Second), Message: "b"},
		{Time: base.Add(90 * time.Second), Message: "c"},
	}
	line := logVolumeChart(logs)
	require.NotNil(t, line)
}

func TestKVSnapshotChartSkipsNonNumericValues(t *testing.T) {
	bar := kvSnapshotChart(map[string]string{
		"omega.position": "12.5",
		"mode":           "idle",
	})
	require.NotNil(t, bar)
}
