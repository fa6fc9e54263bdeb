package opsdb

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"

	"github.com/md2ctl/md2d/internal/adminweb"
	"github.com/md2ctl/md2d/internal/monitoring"
)

// AttachAdminRoutes mounts a read-only tailsql browser over the operational
// store plus a row-count JSON endpoint and an on-demand gzip backup
// download.
func (db *DB) AttachAdminRoutes(mux *adminweb.Mux) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("opsdb: create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://md2d-ops.db", db.DB, &tailsql.DBOptions{
		Label: "md2d operational store",
	})
	mux.Handle("tailsql/", "SQL live debugging of the operational store", tsql.NewMux())

	mux.Handle("ops-stats", "Operational store row counts (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		stats, err := db.Stats(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to get stats: %v", err), http.StatusInternalServerError)
			return
		}
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode stats: %v", err), http.StatusInternalServerError)
			return
		}
	}))

	mux.Handle("ops-backup", "Create and download a backup of the operational store now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("md2d-ops-backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("opsdb: remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Logf("opsdb: stream backup file: %v", err)
		}
	}))

	return nil
}
