package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gluk-w/claworc/sftpsync/internal/config"
	"github.com/gluk-w/claworc/sftpsync/internal/sftpconn"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	return &config.Settings{
		DataPath:           dir,
		DatabasePath:       filepath.Join(dir, "sftpsync.db"),
		LogPath:            filepath.Join(dir, "sftpsync.log"),
		LogLevel:           "info",
		WorkspaceID:        "test",
		WorkspaceRoot:      dir,
		ServersFile:        filepath.Join(dir, "servers.yaml"),
		ListenAddr:         "127.0.0.1:0",
		MaxConcurrent:      2,
		RetryTimes:         0,
		HostKeyPolicy:      "tofu",
		TrustStorePath:     filepath.Join(dir, "known_hosts.json"),
		CriticalPaths:      []string{"/", "/etc"},
		AuditRetentionDays: 30,
	}
}

func newTestApp(t *testing.T, s *config.Settings) *App {
	t.Helper()
	a, err := New(s, Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewWithoutServersFile(t *testing.T) {
	a := newTestApp(t, testSettings(t))
	if len(a.Servers) != 0 {
		t.Fatalf("expected no servers, got %d", len(a.Servers))
	}
	if got := a.Queue.Stats().Concurrency; got != 2 {
		t.Errorf("queue concurrency = %d, want 2", got)
	}
	if _, err := a.Server("prod"); err == nil {
		t.Error("expected lookup of unknown server to fail")
	}
}

func TestNewLoadsServers(t *testing.T) {
	s := testSettings(t)
	yaml := "servers:\n  - name: prod\n    host: prod.example.com\n    username: deploy\n    remotePath: /srv/app\n"
	if err := os.WriteFile(s.ServersFile, []byte(yaml), 0600); err != nil {
		t.Fatalf("write servers: %v", err)
	}
	a := newTestApp(t, s)

	srv, err := a.Server("prod")
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	if srv.EffectivePort() != 22 || srv.RemoteBasePath != "/srv/app" {
		t.Errorf("unexpected server: %+v", srv)
	}
}

func TestNewRejectsBadServersFile(t *testing.T) {
	s := testSettings(t)
	if err := os.WriteFile(s.ServersFile, []byte("servers:\n  - host: \"\"\n"), 0600); err != nil {
		t.Fatalf("write servers: %v", err)
	}
	if _, err := New(s, Options{Logger: zap.NewNop()}); err == nil {
		t.Fatal("expected error for server without host")
	}
}

func TestAPIHealth(t *testing.T) {
	a := newTestApp(t, testSettings(t))
	w := httptest.NewRecorder()
	a.API().Router("").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	a := newTestApp(t, testSettings(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, false) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeReportsListenError(t *testing.T) {
	s := testSettings(t)
	s.ListenAddr = "256.0.0.1:bad"
	a := newTestApp(t, s)
	if err := a.Serve(context.Background(), false); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestLogConnectionEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := &App{Logger: zap.New(core)}

	a.logConnectionEvent(sftpconn.ConnectionEvent{Key: "deploy@prod:22", Type: sftpconn.EventHostKeyBlocked, Details: "mismatch"})
	a.logConnectionEvent(sftpconn.ConnectionEvent{Key: "deploy@prod:22", Type: sftpconn.EventConnected})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected only the blocked event to be logged, got %d entries", len(entries))
	}
	if entries[0].Level != zap.WarnLevel || entries[0].Message != "host key blocked" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
	if entries[0].ContextMap()["details"] != "mismatch" {
		t.Errorf("expected details field, got %v", entries[0].ContextMap())
	}
}
