package sftpconn

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

// Idle reaping schedule. Package-level vars so tests can override.
var (
	reapInterval = 1 * time.Minute
	idleTimeout  = 5 * time.Minute
)

func (m *Manager) startReaper() {
	m.reaper = cron.New()
	if _, err := m.reaper.AddFunc(fmt.Sprintf("@every %s", reapInterval), m.reapIdle); err != nil {
		m.log.Error("schedule idle reaper", zap.Error(err))
	}
	m.reaper.Start()
}

// reapIdle closes every pooled connection that nothing is borrowing and that
// has been unused for longer than idleTimeout.
func (m *Manager) reapIdle() {
	m.mu.Lock()
	now := m.nowFn()
	var stale []remote.Key
	for key, pc := range m.pool {
		if pc.inUse == 0 && now.Sub(pc.lastUsed) > idleTimeout {
			stale = append(stale, key)
		}
	}
	m.mu.Unlock()

	for _, key := range stale {
		if m.evict(key, EventReaped, "idle timeout") {
			m.log.Info("reaped idle connection", zap.String("key", string(key)))
		}
	}
}
