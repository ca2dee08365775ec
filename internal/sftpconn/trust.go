package sftpconn

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

// TrustHostKeyNow connects to srv once accepting whatever host key it
// offers, and records that fingerprint as manually trusted once the
// connection succeeds. The throwaway connection is always closed and never
// pooled. It returns the trusted fingerprint.
func (m *Manager) TrustHostKeyNow(ctx context.Context, srv remote.Server) (string, error) {
	key := srv.Key()

	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()
	if disposed {
		return "", ErrDisposed
	}
	if m.trust == nil {
		return "", errors.New("no host trust store configured")
	}

	at, err := m.prepare(ctx, srv)
	if err != nil {
		return "", err
	}

	var captured string
	client, err := m.dialer.Dial(ctx, ConnectOptions{
		Addr:    at.server.Addr(),
		User:    at.server.Username,
		Auth:    at.auth,
		Timeout: at.timeout,
		HostKeyCallback: func(_ string, _ net.Addr, pub ssh.PublicKey) error {
			captured = hosttrust.Fingerprint(pub)
			return nil
		},
	})
	if client != nil {
		defer m.closeWithTimeout(key, client)
	}
	if err != nil {
		return "", fmt.Errorf("trust host key for %s: %w", key, err)
	}
	if captured == "" {
		return "", fmt.Errorf("trust host key for %s: server offered no host key", key)
	}

	if err := m.trust.TrustFingerprint(srv.Host, srv.EffectivePort(), captured, hosttrust.SourceManual); err != nil {
		return "", fmt.Errorf("trust host key for %s: %w", key, err)
	}
	m.clearValidation(key)
	m.emit(key, EventHostTrusted, captured)
	m.log.Info("host key trusted manually", zap.String("key", string(key)), zap.String("fingerprint", captured))
	return captured, nil
}
