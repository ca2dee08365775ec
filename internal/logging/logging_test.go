package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "app.log")
	logger, c, err := New(Options{Level: "info", Path: p})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello file")
	logger.Debug("hidden at info")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	body, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(body), "hello file") {
		t.Fatalf("expected message in file, got %q", body)
	}
	if strings.Contains(string(body), "hidden at info") {
		t.Fatal("debug message must be filtered at info level")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWithoutFile(t *testing.T) {
	logger, c, err := New(Options{Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("stdout only")
	c.Close()
}

func TestReadTail(t *testing.T) {
	p := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(p, []byte("one\ntwo\nthree\nfour\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadTail(p, 2)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if got != "three\nfour" {
		t.Fatalf("ReadTail = %q", got)
	}

	got, err = ReadTail(filepath.Join(t.TempDir(), "missing.log"), 10)
	if err != nil || got != "" {
		t.Fatalf("missing file: %q, %v", got, err)
	}
}
