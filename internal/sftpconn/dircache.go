package sftpconn

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/sftpsync/internal/logutil"
	"github.com/gluk-w/claworc/sftpsync/internal/pathguard"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

func (m *Manager) dirCached(key remote.Key, dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dirs[key][dir]
	return ok
}

func (m *Manager) markDirs(key remote.Key, dirs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.dirs[key]
	if !ok {
		set = make(map[string]struct{})
		m.dirs[key] = set
	}
	for _, d := range dirs {
		set[d] = struct{}{}
	}
}

// ancestors returns dir and every parent up to "/".
func ancestors(dir string) []string {
	out := []string{dir}
	for dir != "/" {
		dir = path.Dir(dir)
		out = append(out, dir)
	}
	return out
}

// EnsureDir creates dir and its parents on srv. Created paths are cached for
// the life of the pooled connection so repeat calls skip the round trip. A
// failed attempt is cached too and is not retried until the connection is
// replaced.
func (m *Manager) EnsureDir(ctx context.Context, srv remote.Server, dir string) error {
	dir = pathguard.NormalizeRemotePath(dir)
	key := srv.Key()
	if m.dirCached(key, dir) {
		return nil
	}

	c, release, err := m.borrow(ctx, srv)
	if err != nil {
		return err
	}
	defer release()
	if err := c.MkdirAll(dir); err != nil {
		m.markDirs(key, dir)
		m.log.Warn("ensure remote directory failed", logutil.Path("dir", dir), zap.String("key", string(key)), zap.Error(err))
		return fmt.Errorf("ensure remote directory %s: %w", dir, err)
	}
	m.markDirs(key, ancestors(dir)...)
	return nil
}
