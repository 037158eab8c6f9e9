//go:build !windows

package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Tangerine2001/minecraft-server-starter/internal/backup"
	"github.com/Tangerine2001/minecraft-server-starter/internal/registry"
	"github.com/Tangerine2001/minecraft-server-starter/internal/supervisor"
)

func init() { gin.SetMode(gin.TestMode) }

type testEnv struct {
	h         http.Handler
	sup       *supervisor.Supervisor
	worldsDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	bin := filepath.Join(root, "java")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatalf("fake java: %v", err)
	}
	serverDir := filepath.Join(root, "server")
	if err := os.MkdirAll(serverDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(serverDir, "server.jar"), []byte("jar"), 0o640); err != nil {
		t.Fatalf("jar: %v", err)
	}

	worldsDir := filepath.Join(root, "worlds")
	sched := backup.New(backup.Config{
		WorldsDir:       worldsDir,
		BackupsDir:      filepath.Join(root, "backups"),
		StateDir:        filepath.Join(root, "state"),
		ShutdownEnabled: true,
	})
	reg := registry.New(registry.NewFileStore(filepath.Join(root, "state")))
	sup := supervisor.New(supervisor.Config{
		WorldsDir: worldsDir,
		ServerDir: serverDir,
		JavaBin:   bin,
	}, reg, nil, sched)

	return &testEnv{h: NewRouter(sup, sched, "").Handler(), sup: sup, worldsDir: worldsDir}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func TestStartStopStatusOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/worlds/start", `{"name":"Alpha","memory":"1G"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	var started struct {
		World string `json:"world"`
		PID   int    `json:"pid"`
		Port  int    `json:"port"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.World != "Alpha" || started.PID <= 0 || started.Port == 0 {
		t.Fatalf("start response %+v", started)
	}

	// Starting again conflicts.
	w = e.do(t, http.MethodPost, "/worlds/start", `{"name":"Alpha"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("second start: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/worlds/status?name=Alpha", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"running":true`) {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/worlds/status", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"Alpha"`) {
		t.Fatalf("status all: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/worlds/stop?name=Alpha", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"stopped":true`) {
		t.Fatalf("stop: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/worlds/stop?name=Alpha", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"already_stopped":true`) {
		t.Fatalf("stop again: %d %s", w.Code, w.Body.String())
	}
}

func TestBackupOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	if err := os.MkdirAll(filepath.Join(e.worldsDir, "Alpha"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(e.worldsDir, "Alpha", "level.dat"), []byte("x"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := e.do(t, http.MethodPost, "/worlds/backup?name=Alpha", "")
	if w.Code != http.StatusOK {
		t.Fatalf("backup: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		ArchivePath string `json:"archive_path"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ArchivePath == "" {
		t.Fatalf("no archive path in %s", w.Body.String())
	}
	if _, err := os.Stat(resp.ArchivePath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
}

func TestInvalidNamesRejectedBeforeDisk(t *testing.T) {
	e := newTestEnv(t)
	reqs := []struct{ method, target, body string }{
		{http.MethodPost, "/worlds/start", `{"name":"../etc"}`},
		{http.MethodPost, "/worlds/stop?name=..%2Fetc", ""},
		{http.MethodGet, "/worlds/status?name=a%2Fb", ""},
		{http.MethodPost, "/worlds/backup?name=", ""},
	}
	for _, r := range reqs {
		w := e.do(t, r.method, r.target, r.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: %d %s", r.method, r.target, w.Code, w.Body.String())
		}
	}
	// None of those requests may create anything on disk.
	if _, err := os.Stat(e.worldsDir); !os.IsNotExist(err) {
		t.Fatalf("worlds dir created by rejected request: %v", err)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestNewServerReportsBindError(t *testing.T) {
	e := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	if _, err := NewServer(ln.Addr().String(), "", e.sup, nil); err == nil {
		t.Fatalf("expected bind error on occupied address")
	}

	srv, err := NewServer("127.0.0.1:0", "", e.sup, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	_ = srv.Close()
}

func TestBasePathMounting(t *testing.T) {
	e := newTestEnv(t)
	h := NewRouter(e.sup, nil, "/api").Handler()
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("base path healthz: %d", w.Code)
	}
}
