package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes the root command against a fresh data directory.
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SFTPSYNC_DATA_PATH", dataDir)
	t.Setenv("SFTPSYNC_WORKSPACE_ROOT", dataDir)
	t.Setenv("SFTPSYNC_SERVERS_FILE", filepath.Join(dataDir, "servers.yaml"))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHostsEmpty(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "hosts")
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if !strings.Contains(out, "no trusted hosts") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUntrustValidatesPort(t *testing.T) {
	if _, err := runCLI(t, t.TempDir(), "untrust", "example.com", "99999"); err == nil {
		t.Fatal("expected invalid port error")
	}
	if _, err := runCLI(t, t.TempDir(), "untrust", "example.com"); err == nil || !strings.Contains(err.Error(), "not trusted") {
		t.Fatalf("expected not trusted error, got %v", err)
	}
}

func TestUnknownServer(t *testing.T) {
	if _, err := runCLI(t, t.TempDir(), "ls", "prod"); err == nil || !strings.Contains(err.Error(), `no server named "prod"`) {
		t.Fatalf("expected unknown server error, got %v", err)
	}
}

func TestMigrateCredentials(t *testing.T) {
	dir := t.TempDir()
	yaml := "servers:\n  - name: prod\n    host: prod.example.com\n    username: deploy\n    password: hunter2\n"
	if err := os.WriteFile(filepath.Join(dir, "servers.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatalf("write servers: %v", err)
	}

	out, err := runCLI(t, dir, "migrate-credentials")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "migrated 1 credential fields") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = runCLI(t, dir, "migrate-credentials")
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !strings.Contains(out, "migrated 0 credential fields") {
		t.Errorf("expected idempotent migration, got %q", out)
	}
}

func TestTransfersEmpty(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "transfers")
	if err != nil {
		t.Fatalf("transfers: %v", err)
	}
	if !strings.Contains(out, "0 of 0 records") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUploadOutsideWorkspaceIsBlocked(t *testing.T) {
	dir := t.TempDir()
	yaml := "servers:\n  - name: prod\n    host: 127.0.0.1\n    port: 1\n    username: deploy\n    password: x\n"
	if err := os.WriteFile(filepath.Join(dir, "servers.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatalf("write servers: %v", err)
	}
	_, err := runCLI(t, dir, "upload", "prod", "../../etc/passwd")
	if err == nil || !strings.Contains(err.Error(), "Blocked") {
		t.Fatalf("expected path guard block, got %v", err)
	}
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id_ed25519")
	out, err := runCLI(t, dir, "keygen", path)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if !strings.Contains(out, "fingerprint SHA256:") || !strings.Contains(out, "ssh-ed25519 ") {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := runCLI(t, dir, "keygen", path); err == nil {
		t.Fatal("expected second keygen to refuse overwriting")
	}
}
