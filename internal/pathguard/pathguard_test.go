package pathguard

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestNormalizeRemotePath(t *testing.T) {
	cases := map[string]string{
		"":                 "/",
		"/":                "/",
		"srv/app":          "/srv/app",
		"/srv/app/":        "/srv/app",
		"/srv//app/./x":    "/srv/app/x",
		`\srv\app\file`:    "/srv/app/file",
		"/srv/app/../etc":  "/srv/etc",
		"/../../etc":       "/etc",
	}
	for in, want := range cases {
		if got := NormalizeRemotePath(in); got != want {
			t.Errorf("NormalizeRemotePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAssertRemotePathSafe(t *testing.T) {
	got, err := AssertRemotePathSafe("/srv/app", "/srv/app/sub/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/srv/app/sub/file.txt" {
		t.Errorf("got %q", got)
	}

	_, err = AssertRemotePathSafe("/srv/app", "/srv/app/../../etc/passwd")
	if !errors.Is(err, ErrRemoteTraversal) {
		t.Fatalf("expected remote traversal, got %v", err)
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != KindRemoteTraversal {
		t.Fatalf("expected *Error with remote kind, got %#v", err)
	}
	if ge.Candidate != "/etc/passwd" {
		t.Errorf("Candidate = %q", ge.Candidate)
	}
}

func TestAssertRemotePathSafe_Cases(t *testing.T) {
	tests := []struct {
		base, cand string
		want       string
		wantErr    bool
	}{
		{"/srv/app", "/srv/app", "/srv/app", false},
		{"/srv/app", "sub/x", "/srv/app/sub/x", false},
		{"/srv/app", "../other", "", true},
		{"/srv/app", "/srv/application", "", true},
		{"/srv/app/", "/srv/app/x/", "/srv/app/x", false},
		{"/", "/etc/passwd", "/etc/passwd", false},
		{"/srv/app", `\srv\app\win.txt`, "/srv/app/win.txt", false},
	}
	for _, tt := range tests {
		got, err := AssertRemotePathSafe(tt.base, tt.cand)
		if tt.wantErr {
			if err == nil {
				t.Errorf("(%q, %q): expected error, got %q", tt.base, tt.cand, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("(%q, %q): unexpected error %v", tt.base, tt.cand, err)
			continue
		}
		if got != tt.want {
			t.Errorf("(%q, %q) = %q, want %q", tt.base, tt.cand, got, tt.want)
		}
	}
}

func TestAssertRemotePathSafe_Disabled(t *testing.T) {
	g := Guard{DisableRemote: true}
	got, err := g.AssertRemotePathSafe("/srv/app", "/srv/app/../../etc/passwd")
	if err != nil {
		t.Fatalf("disabled guard returned error: %v", err)
	}
	if got != "/etc/passwd" {
		t.Errorf("got %q", got)
	}
}

func TestAssertLocalPathInsideWorkspace(t *testing.T) {
	root := t.TempDir()

	got, err := AssertLocalPathInsideWorkspace(root, filepath.Join(root, "a", "b.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(root, "a", "b.txt") {
		t.Errorf("got %q", got)
	}

	got, err = AssertLocalPathInsideWorkspace(root, "rel/c.txt")
	if err != nil {
		t.Fatalf("relative candidate: %v", err)
	}
	if got != filepath.Join(root, "rel", "c.txt") {
		t.Errorf("got %q", got)
	}

	_, err = AssertLocalPathInsideWorkspace(root, filepath.Join(root, "..", "outside.txt"))
	if !errors.Is(err, ErrLocalTraversal) {
		t.Fatalf("expected local traversal, got %v", err)
	}

	_, err = AssertLocalPathInsideWorkspace(root, "../../etc/passwd")
	if !errors.Is(err, ErrLocalTraversal) {
		t.Fatalf("expected local traversal for relative escape, got %v", err)
	}
	if errors.Is(err, ErrRemoteTraversal) {
		t.Error("local error must not match remote sentinel")
	}
}

func TestAssertLocalPathInsideWorkspace_Disabled(t *testing.T) {
	root := t.TempDir()
	g := Guard{DisableLocal: true}
	if _, err := g.AssertLocalPathInsideWorkspace(root, filepath.Join(root, "..", "x")); err != nil {
		t.Fatalf("disabled guard returned error: %v", err)
	}
}

func TestIsCriticalRemotePath(t *testing.T) {
	critical := []string{"/", "/etc", "/var"}
	if !IsCriticalRemotePath("/etc", critical) {
		t.Error("/etc should be critical")
	}
	if !IsCriticalRemotePath("/etc/", critical) {
		t.Error("/etc/ should normalize to critical /etc")
	}
	if !IsCriticalRemotePath("/srv/..", critical) {
		t.Error("/srv/.. normalizes to / and should be critical")
	}
	if IsCriticalRemotePath("/etc/app", critical) {
		t.Error("/etc/app is not an exact match")
	}
	if (Guard{DisableCritical: true}).IsCriticalRemotePath("/etc", critical) {
		t.Error("disabled guard must report false")
	}
}

func TestAssertNotCritical(t *testing.T) {
	err := Guard{}.AssertNotCritical("/var", []string{"/var"})
	if !errors.Is(err, ErrCriticalPath) {
		t.Fatalf("expected critical path error, got %v", err)
	}
	if err := (Guard{}).AssertNotCritical("/var/www", []string{"/var"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
