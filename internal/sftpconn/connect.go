// connect.go assembles connect options and runs the retry loop for one key.

package sftpconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sftpsync/internal/config"
	"github.com/gluk-w/claworc/sftpsync/internal/credentials"
	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/logutil"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

// Connect tuning limits and retry backoff. Package-level vars so tests can override.
var (
	defaultConnectTimeout = 20 * time.Second
	minConnectTimeout     = 1 * time.Second
	maxRetryTimes         = 10

	connectInitialBackoff = 500 * time.Millisecond
	connectMaxBackoff     = 8 * time.Second
)

// clampTuning bounds the provider's values to something usable.
func clampTuning(t config.TransferTuning) (timeout time.Duration, retries int) {
	timeout = t.ConnectionTimeout
	switch {
	case timeout <= 0:
		timeout = defaultConnectTimeout
	case timeout < minConnectTimeout:
		timeout = minConnectTimeout
	}
	retries = t.RetryTimes
	if retries < 0 {
		retries = 0
	}
	if retries > maxRetryTimes {
		retries = maxRetryTimes
	}
	return timeout, retries
}

// hostCheck is the outcome of the host-key verifier for one connect attempt.
type hostCheck struct {
	Fingerprint string
	Result      hosttrust.Result
	Checked     bool
	Err         error
}

// attempt is everything needed to dial a server, built once per connect.
type attempt struct {
	server  remote.Server
	auth    []ssh.AuthMethod
	timeout time.Duration
	retries int
	policy  hosttrust.Policy
}

// prepare resolves credentials and builds auth methods and limits for srv.
func (m *Manager) prepare(ctx context.Context, srv remote.Server) (attempt, error) {
	sec := m.securityPolicy()
	timeout, retries := clampTuning(m.transferTuning())

	policy, err := hosttrust.ParsePolicy(sec.HostKeyPolicy)
	if err != nil {
		m.log.Warn("invalid host key policy, using tofu", zap.String("policy", logutil.SanitizeForLog(sec.HostKeyPolicy)))
	}

	resolved := srv
	if m.creds != nil {
		res, err := m.creds.Resolve(ctx, srv, m.workspace, credentials.ResolveOptions{AutoMigrate: sec.AutoMigrateCredentials})
		if err != nil {
			return attempt{}, fmt.Errorf("resolve credentials for %s: %w", srv.Key(), err)
		}
		resolved = res.Server
	}

	auth, err := authMethods(resolved)
	if err != nil {
		return attempt{}, fmt.Errorf("credentials for %s: %w", srv.Key(), err)
	}
	return attempt{server: resolved, auth: auth, timeout: timeout, retries: retries, policy: policy}, nil
}

// authMethods builds the SSH auth chain: private key first, then password
// and keyboard-interactive answered with the password.
func authMethods(srv remote.Server) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if srv.PrivateKeyPath != "" {
		signer, err := loadSigner(srv.PrivateKeyPath, srv.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if pw := srv.Password; pw != "" {
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, ErrNoAuthMethod
	}
	return methods, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	p := expandHome(keyPath)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", p, err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key %s is encrypted and no passphrase is configured", p)
		}
		return nil, fmt.Errorf("parse private key %s: %w", p, err)
	}
	return signer, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// verifier returns the host-key callback for one attempt. It fills check and
// records the outcome as the key's last validation.
func (m *Manager) verifier(srv remote.Server, policy hosttrust.Policy, check *hostCheck) ssh.HostKeyCallback {
	key := srv.Key()
	hostPort := remote.HostPort(srv.Host, srv.EffectivePort())
	return func(_ string, _ net.Addr, pub ssh.PublicKey) error {
		check.Fingerprint = hosttrust.Fingerprint(pub)
		if m.trust == nil {
			check.Result = hosttrust.Result{Allowed: true, Reason: hosttrust.ReasonPolicyOff, Actual: check.Fingerprint}
			check.Checked = true
			return nil
		}
		res, err := m.trust.VerifyFingerprint(srv, check.Fingerprint, policy)
		if err != nil {
			check.Err = err
			m.recordValidation(key, *check)
			return fmt.Errorf("%w: %w", ErrHostKeyValidation, err)
		}
		check.Result = res
		check.Checked = true
		m.recordValidation(key, *check)
		if !res.Allowed {
			return res.Err(hostPort, policy)
		}
		return nil
	}
}

// wrapConnectError turns the raw dial error into the error callers see.
func (m *Manager) wrapConnectError(key remote.Key, srv remote.Server, policy hosttrust.Policy, check hostCheck, err error) error {
	if check.Checked && !check.Result.Allowed {
		switch check.Result.Reason {
		case hosttrust.ReasonUnknownHost, hosttrust.ReasonMismatch:
			return &HostKeyError{
				Key:     key,
				Policy:  policy,
				Result:  check.Result,
				Blocked: check.Result.Err(remote.HostPort(srv.Host, srv.EffectivePort()), policy),
				Cause:   err,
			}
		}
	}
	if check.Err != nil {
		return fmt.Errorf("connect to %s: %w: %w", key, ErrHostKeyValidation, check.Err)
	}
	return fmt.Errorf("connect to %s: %w", key, err)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, hosttrust.ErrHostKeyBlocked),
		errors.Is(err, ErrHostKeyValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrDisposed):
		return false
	}
	return !strings.Contains(err.Error(), "unable to authenticate")
}

// connect dials srv honoring the retry budget and pools the result.
func (m *Manager) connect(ctx context.Context, srv remote.Server) (Client, error) {
	key := srv.Key()

	// another flight may have pooled a connection between our pool check and now
	if c, ok := m.pooled(key); ok {
		return c, nil
	}

	m.states.set(key, StateConnecting, "connect requested")

	at, err := m.prepare(ctx, srv)
	if err != nil {
		m.connectFailed(key, err)
		return nil, err
	}

	backoff := connectInitialBackoff
	for n := 1; ; n++ {
		var check hostCheck
		client, dialErr := m.dialer.Dial(ctx, ConnectOptions{
			Addr:            at.server.Addr(),
			User:            at.server.Username,
			Auth:            at.auth,
			Timeout:         at.timeout,
			HostKeyCallback: m.verifier(at.server, at.policy, &check),
		})
		if dialErr == nil {
			m.clearValidation(key)
			return m.adopt(key, at.server, client)
		}

		err = m.wrapConnectError(key, at.server, at.policy, check, dialErr)
		var hk *HostKeyError
		if errors.As(err, &hk) {
			m.emit(key, EventHostKeyBlocked, hk.Error())
		}
		if !retryable(err) || n > at.retries {
			m.connectFailed(key, err)
			return nil, err
		}

		m.log.Warn("connect attempt failed, retrying",
			zap.String("key", string(key)),
			zap.Int("attempt", n),
			zap.Duration("backoff", backoff),
			zap.Error(dialErr))

		select {
		case <-ctx.Done():
			err = fmt.Errorf("connect to %s: %w", key, ctx.Err())
			m.connectFailed(key, err)
			return nil, err
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > connectMaxBackoff {
			backoff = connectMaxBackoff
		}
	}
}

func (m *Manager) connectFailed(key remote.Key, err error) {
	m.states.set(key, StateFailed, err.Error())
	m.emit(key, EventConnectFailed, err.Error())
	m.log.Warn("connect failed", zap.String("key", string(key)), zap.Error(err))
}
