package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camdrive/internal/controlloop"
	"github.com/banshee-data/camdrive/internal/journal"
	"github.com/banshee-data/camdrive/internal/motorlink"
)

// localHostRequest makes the request look local so tsweb allows it.
func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

type staticStatus controlloop.Status

func (s staticStatus) Status() controlloop.Status { return controlloop.Status(s) }

type staticSession motorlink.Session

func (s staticSession) Snapshot() motorlink.Session { return motorlink.Session(s) }

func TestStatusEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	status := staticStatus{State: controlloop.Connected, Cycles: 12, CommandsSent: 4}
	session := staticSession{ID: "abc", Endpoint: "tcp://192.168.4.1:100", Connected: true}
	require.NoError(t, AttachRoutes(mux, status, session, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/status"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got statusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "connected", got.State)
	assert.Equal(t, int64(12), got.Cycles)
	assert.Equal(t, int64(4), got.CommandsSent)
	assert.Equal(t, "abc", got.Session.ID)
}

func TestIndexShowsLoopState(t *testing.T) {
	mux := http.NewServeMux()
	require.NoError(t, AttachRoutes(mux, staticStatus{State: controlloop.Connecting}, staticSession{Endpoint: "mock"}, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/"))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "connecting")
	assert.Contains(t, body, "mock (down)")
	assert.NotContains(t, body, "SQL live debugging")
}

func TestRemoteRequestsRejected(t *testing.T) {
	mux := http.NewServeMux()
	require.NoError(t, AttachRoutes(mux, staticStatus{}, staticSession{}, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/status", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJournalRoutes(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	_, err = j.StartRun(ctx, "dev", "mock", at)
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		j.ObserveCycle(controlloop.CycleReport{Seq: i, Started: at, Outcome: controlloop.OutcomeIgnored})
	}
	j.Flush()

	mux := http.NewServeMux()
	require.NoError(t, AttachRoutes(mux, staticStatus{}, staticSession{}, j))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/cycles?limit=2"))
	require.Equal(t, http.StatusOK, w.Code)
	var cycles []controlloop.CycleReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cycles))
	require.Len(t, cycles, 2)
	assert.Equal(t, int64(3), cycles[0].Seq)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/cycles?limit=zero"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/"))
	assert.Contains(t, w.Body.String(), "SQL live debugging")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/backup"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "journal-")
	assert.True(t, strings.HasPrefix(w.Body.String(), "SQLite format 3"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
