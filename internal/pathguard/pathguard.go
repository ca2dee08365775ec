// Package pathguard validates local and remote paths before any filesystem or
// SFTP call is made. All checks are pure functions of their inputs.
//
// A Guard value carries one disable flag per check; the zero value enables
// everything. The package-level functions use the zero Guard.
package pathguard

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Kind classifies a guard violation.
type Kind string

const (
	KindLocalTraversal  Kind = "PATH_GUARD_LOCAL_TRAVERSAL"
	KindRemoteTraversal Kind = "PATH_GUARD_REMOTE_TRAVERSAL"
	KindCriticalPath    Kind = "PATH_GUARD_CRITICAL_PATH"
)

var (
	ErrLocalTraversal  = errors.New(string(KindLocalTraversal))
	ErrRemoteTraversal = errors.New(string(KindRemoteTraversal))
	ErrCriticalPath    = errors.New(string(KindCriticalPath))
)

// Error is returned for every guard violation. It matches the sentinel for
// its Kind under errors.Is.
type Error struct {
	Kind      Kind
	Base      string
	Candidate string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCriticalPath:
		return fmt.Sprintf("%s: refusing destructive operation on critical path %s", e.Kind, e.Candidate)
	default:
		return fmt.Sprintf("%s: %s escapes %s", e.Kind, e.Candidate, e.Base)
	}
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrLocalTraversal:
		return e.Kind == KindLocalTraversal
	case ErrRemoteTraversal:
		return e.Kind == KindRemoteTraversal
	case ErrCriticalPath:
		return e.Kind == KindCriticalPath
	}
	return false
}

// Guard holds the per-check switches. The zero value enables all checks.
type Guard struct {
	DisableLocal    bool
	DisableRemote   bool
	DisableCritical bool
}

// NormalizeRemotePath canonicalizes p to an absolute posix path. Backslashes
// are treated as separators and an empty path becomes "/".
func NormalizeRemotePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// AssertLocalPathInsideWorkspace returns the absolute form of candidate, or a
// KindLocalTraversal error when it is not contained in root. A relative
// candidate is resolved against root.
func (g Guard) AssertLocalPathInsideWorkspace(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absRoot, candidate)
	}
	absCand, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve local path: %w", err)
	}
	if g.DisableLocal {
		return absCand, nil
	}

	rel, err := filepath.Rel(absRoot, absCand)
	if err != nil || escapes(rel, string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", &Error{Kind: KindLocalTraversal, Base: absRoot, Candidate: absCand}
	}
	return absCand, nil
}

// AssertRemotePathSafe returns the normalized candidate, or a
// KindRemoteTraversal error when it is not contained in base. A relative
// candidate is resolved against base.
func (g Guard) AssertRemotePathSafe(base, candidate string) (string, error) {
	normBase := NormalizeRemotePath(base)
	raw := strings.ReplaceAll(strings.TrimSpace(candidate), `\`, "/")
	if !strings.HasPrefix(raw, "/") {
		raw = path.Join(normBase, raw)
	}
	normCand := NormalizeRemotePath(raw)
	if g.DisableRemote {
		return normCand, nil
	}

	rel := relPosix(normBase, normCand)
	if escapes(rel, "/") {
		return "", &Error{Kind: KindRemoteTraversal, Base: normBase, Candidate: normCand}
	}
	return normCand, nil
}

// IsCriticalRemotePath reports whether p matches one of critical exactly
// after normalization. Descendants of a critical path are not critical.
func (g Guard) IsCriticalRemotePath(p string, critical []string) bool {
	if g.DisableCritical {
		return false
	}
	norm := NormalizeRemotePath(p)
	for _, c := range critical {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if NormalizeRemotePath(c) == norm {
			return true
		}
	}
	return false
}

// AssertNotCritical returns a KindCriticalPath error when p is critical.
func (g Guard) AssertNotCritical(p string, critical []string) error {
	if g.IsCriticalRemotePath(p, critical) {
		return &Error{Kind: KindCriticalPath, Candidate: NormalizeRemotePath(p)}
	}
	return nil
}

// relPosix returns cand relative to base; both must be normalized.
func relPosix(base, cand string) string {
	if base == cand {
		return "."
	}
	prefix := base
	if prefix != "/" {
		prefix += "/"
	}
	if strings.HasPrefix(cand, prefix) {
		return strings.TrimPrefix(cand, prefix)
	}
	return ".."
}

func escapes(rel, sep string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+sep)
}

var defaultGuard Guard

func AssertLocalPathInsideWorkspace(root, candidate string) (string, error) {
	return defaultGuard.AssertLocalPathInsideWorkspace(root, candidate)
}

func AssertRemotePathSafe(base, candidate string) (string, error) {
	return defaultGuard.AssertRemotePathSafe(base, candidate)
}

func IsCriticalRemotePath(p string, critical []string) bool {
	return defaultGuard.IsCriticalRemotePath(p, critical)
}
