// Command mdstatus renders a small offline HTML dashboard from the daemon's
// operational store: recent command-audit outcomes, log volume, and the
// last known KV mirror snapshot. It is meant to be run by hand against a
// copy of md2d-ops.db for field diagnosis, not served live.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/md2ctl/md2d/internal/opsdb"
)

var (
	dbPath  = flag.String("db", "", "path to an md2d operational store (md2d-ops.db)")
	outPath = flag.String("out", "", "output HTML file (default: stdout)")
	history = flag.Int("n", 200, "number of recent log/audit rows to include")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags)

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "mdstatus: -db is required")
		flag.Usage()
		os.Exit(2)
	}

	db, err := opsdb.Open(*dbPath)
	if err != nil {
		log.Fatalf("mdstatus: open %s: %v", *dbPath, err)
	}
	defer db.Close()

	ctx := context.Background()

	logs, err := db.RecentLogs(ctx, *history)
	if err != nil {
		log.Fatalf("mdstatus: load log entries: %v", err)
	}
	audits, err := db.RecentCommands(ctx, *history)
	if err != nil {
		log.Fatalf("mdstatus: load command audits: %v", err)
	}
	snapshot, err := db.LoadSnapshot(ctx)
	if err != nil {
		log.Fatalf("mdstatus: load kv snapshot: %v", err)
	}
	stats, err := db.Stats(ctx)
	if err != nil {
		log.Fatalf("mdstatus: load stats: %v", err)
	}

	page := components.NewPage()
	page.AddCharts(
		auditOutcomeChart(audits),
		logVolumeChart(logs),
		kvSnapshotChart(snapshot),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		log.Fatalf("mdstatus: render dashboard: %v", err)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("mdstatus: create %s: %v", *outPath, err)
		}
		defer f.Close()
		out = f
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		log.Fatalf("mdstatus: write dashboard: %v", err)
	}

	log.Printf("mdstatus: rendered dashboard (log_entries=%d kv_keys=%d command_audits=%d as_of=%s)",
		stats.LogEntries, stats.KVKeys, stats.CommandAudits, stats.AsOf.Format(time.RFC3339))
}

// auditOutcomeChart plots ok/failed command dispatches in submission order,
// oldest first, as two side-by-side series so a run of failures stands out.
func auditOutcomeChart(audits []opsdb.AuditEntry) *charts.Bar {
	x := make([]string, len(audits))
	ok := make([]opts.BarData, len(audits))
	failed := make([]opts.BarData, len(audits))
	for i := len(audits) - 1; i >= 0; i-- {
		a := audits[i]
		idx := len(audits) - 1 - i
		x[idx] = a.SubmittedAt.Format("15:04:05")
		if a.OK {
			ok[idx] = opts.BarData{Value: 1}
			failed[idx] = opts.BarData{Value: 0}
		} else {
			ok[idx] = opts.BarData{Value: 0}
			failed[idx] = opts.BarData{Value: 1}
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Command audit outcomes", Subtitle: fmt.Sprintf("%d most recent", len(audits))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("ok", ok).
		AddSeries("failed", failed,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

// logVolumeChart buckets recent log entries by minute into a line chart.
func logVolumeChart(logs []opsdb.LogEntry) *charts.Line {
	counts := make(map[string]int)
	var order []string
	for i := len(logs) - 1; i >= 0; i-- {
		bucket := logs[i].Time.Format("15:04")
		if _, seen := counts[bucket]; !seen {
			order = append(order, bucket)
		}
		counts[bucket]++
	}

	x := make([]string, len(order))
	y := make([]opts.LineData, len(order))
	for i, bucket := range order {
		x[i] = bucket
		y[i] = opts.LineData{Value: counts[bucket]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Log volume", Subtitle: "entries per minute"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).AddSeries("entries/min", y)
	return line
}

// kvSnapshotChart renders numeric-valued KV keys (axis positions, counters)
// as a bar chart so the last known state is visible at a glance. Non-numeric
// values (flags, mode strings) are skipped — this view is for position/rate
// telemetry, not arbitrary state dumps.
func kvSnapshotChart(snapshot map[string]string) *charts.Bar {
	var keys []string
	var values []opts.BarData
	for k, v := range snapshot {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		keys = append(keys, k)
		values = append(values, opts.BarData{Value: f})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "KV mirror snapshot (numeric keys)", Subtitle: fmt.Sprintf("%d of %d keys", len(keys), len(snapshot))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(keys).
		AddSeries("value", values,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}
