package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/depth.report/internal/httputil"
)

// DatabaseStats summarises the database for the debug page.
type DatabaseStats struct {
	TotalSizeMB float64 `json:"total_size_mb"`
	Soundings   int64   `json:"soundings"`
	Version     uint    `json:"schema_version"`
	Dirty       bool    `json:"schema_dirty"`
}

// Stats reports size, row count and schema version.
func (db *DB) Stats() (DatabaseStats, error) {
	var st DatabaseStats
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return st, err
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return st, err
	}
	st.TotalSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	n, err := db.CountSoundings()
	if err != nil {
		return st, err
	}
	st.Soundings = n

	st.Version, st.Dirty, err = db.MigrateVersion(Migrations())
	return st, err
}

// AttachAdminRoutes mounts live SQL, stats and backup download under
// /debug/. tsweb restricts these to localhost and tailnet peers.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://depth.db", db.DB, &tailsql.DBOptions{
		Label: "Depth DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("db-stats", "Database size and schema version", func(w http.ResponseWriter, r *http.Request) {
		st, err := db.Stats()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, st)
	})

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "depth-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logf("failed to remove backup dir %s: %v", dir, err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		logf("backup download interrupted: %v", err)
	}
}
