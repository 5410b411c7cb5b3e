// Package debugsrv serves the operator debug pages: live loop status, the
// motor link session and, when a journal is configured, recent cycles and a
// SQL console over the journal database.
package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/camdrive/internal/controlloop"
	"github.com/banshee-data/camdrive/internal/journal"
	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/motorlink"
	"github.com/banshee-data/camdrive/internal/version"
)

// StatusSource is implemented by *controlloop.Loop.
type StatusSource interface {
	Status() controlloop.Status
}

// SessionSource is implemented by *motorlink.Channel.
type SessionSource interface {
	Snapshot() motorlink.Session
}

const defaultCycleLimit = 50

type statusView struct {
	Version           string                  `json:"version"`
	State             string                  `json:"state"`
	Cycles            int64                   `json:"cycles"`
	Heartbeats        int64                   `json:"heartbeats"`
	CommandsSent      int64                   `json:"commands_sent"`
	Faults            int64                   `json:"faults"`
	ReconnectAttempts int                     `json:"reconnect_attempts"`
	LastHeartbeat     time.Time               `json:"last_heartbeat"`
	LastCycle         controlloop.CycleReport `json:"last_cycle"`
	Session           motorlink.Session       `json:"session"`
}

// AttachRoutes registers the debug handlers under /debug/ on mux. j may be
// nil.
func AttachRoutes(mux *http.ServeMux, loop StatusSource, link SessionSource, j *journal.Journal) error {
	debug := tsweb.Debugger(mux)

	debug.KV("Version", version.String())
	debug.KVFunc("Loop state", func() any { return loop.Status().State.String() })
	debug.KVFunc("Cycles", func() any { return loop.Status().Cycles })
	debug.KVFunc("Reconnect attempts", func() any { return loop.Status().ReconnectAttempts })
	debug.KVFunc("Controller", func() any {
		s := link.Snapshot()
		if !s.Connected {
			return s.Endpoint + " (down)"
		}
		return fmt.Sprintf("%s session %s", s.Endpoint, s.ID)
	})

	debug.HandleFunc("status", "Control loop status as JSON", func(w http.ResponseWriter, r *http.Request) {
		st := loop.Status()
		writeJSON(w, statusView{
			Version:           version.String(),
			State:             st.State.String(),
			Cycles:            st.Cycles,
			Heartbeats:        st.Heartbeats,
			CommandsSent:      st.CommandsSent,
			Faults:            st.Faults,
			ReconnectAttempts: st.ReconnectAttempts,
			LastHeartbeat:     st.LastHeartbeat,
			LastCycle:         st.LastReport,
			Session:           link.Snapshot(),
		})
	})

	if j == nil {
		return nil
	}

	debug.HandleFunc("cycles", "Recent control cycles from the journal", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultCycleLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		cycles, err := j.RecentCycles(r.Context(), limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read journal: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, cycles)
	})

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://journal.db", j.DB(), &tailsql.DBOptions{
		Label: "Drive journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("backup", "Download a backup of the journal", func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "camdrive-backup-")
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to create backup dir: %v", err), http.StatusInternalServerError)
			return
		}
		defer os.RemoveAll(dir)

		name := fmt.Sprintf("journal-%d.db", time.Now().Unix())
		path := filepath.Join(dir, name)
		if err := j.Backup(r.Context(), path); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := io.Copy(w, f); err != nil {
			monitoring.Logf("debug: backup download interrupted: %v", err)
		}
	})
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		monitoring.Logf("debug: failed to encode response: %v", err)
	}
}

// Serve runs an HTTP server for handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("debug server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("debug server shutdown: %w", err)
		}
		return nil
	}
}
