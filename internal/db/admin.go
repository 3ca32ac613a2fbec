package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/slip.capture/internal/httputil"
	"github.com/banshee-data/slip.capture/internal/monitoring"
)

// AttachAdminRoutes mounts tailsql, the backup download, the packet and
// session listings and the packet-length chart under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Printf("failed to create tailsql server: %v", err)
	} else {
		tsql.SetDB("sqlite://slip_capture.db", db.DB, &tailsql.DBOptions{
			Label: "SLIP capture DB",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))

	debug.HandleSilentFunc("packets", func(w http.ResponseWriter, r *http.Request) {
		packets, err := db.Packets(r.URL.Query().Get("session"), httputil.QueryLimit(r))
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list packets: %v", err))
			return
		}
		httputil.WriteJSONOK(w, packets)
	})

	debug.HandleSilentFunc("sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := db.Sessions(httputil.QueryLimit(r))
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
			return
		}
		httputil.WriteJSONOK(w, sessions)
	})

	debug.HandleFunc("lengths", "Decoded packet length chart", func(w http.ResponseWriter, r *http.Request) {
		session := r.URL.Query().Get("session")
		counts, err := db.LengthCounts(session)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to count lengths: %v", err))
			return
		}
		subtitle := "all sessions"
		if session != "" {
			subtitle = "session " + session
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := monitoring.RenderLengthChart(w, subtitle, counts); err != nil {
			monitoring.Logf("failed to render length chart: %v", err)
		}
	})
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		log.Printf("Failed to write backup file: %v", err)
	}
}
