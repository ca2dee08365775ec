package hosttrust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sftpsync/internal/logutil"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

// Policy selects how unknown host keys are handled.
type Policy string

const (
	PolicyTOFU   Policy = "tofu"
	PolicyStrict Policy = "strict"
	PolicyOff    Policy = "off"
)

// ParsePolicy maps a configuration string to a Policy. An empty string is
// PolicyTOFU.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyTOFU:
		return PolicyTOFU, nil
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyOff:
		return PolicyOff, nil
	default:
		return PolicyTOFU, fmt.Errorf("unknown host key policy %q", s)
	}
}

// Source records how an entry became trusted.
type Source string

const (
	SourceTOFU   Source = "tofu"
	SourceManual Source = "manual"
)

// Reason explains a verification outcome.
type Reason string

const (
	ReasonPolicyOff   Reason = "policy_off"
	ReasonUnknownHost Reason = "unknown_host"
	ReasonTrustedNow  Reason = "trusted_now"
	ReasonMatch       Reason = "match"
	ReasonMismatch    Reason = "mismatch"
)

// Result is the outcome of one host-key check. Expected is set only for
// ReasonMismatch.
type Result struct {
	Allowed  bool   `json:"allowed"`
	Reason   Reason `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Err converts a blocked result into its typed error; allowed results give nil.
func (r Result) Err(hostPort string, policy Policy) error {
	if r.Allowed {
		return nil
	}
	switch r.Reason {
	case ReasonUnknownHost:
		return &UnknownHostError{HostPort: hostPort, Policy: policy, Fingerprint: r.Actual}
	case ReasonMismatch:
		return &MismatchError{HostPort: hostPort, Policy: policy, Expected: r.Expected, Actual: r.Actual}
	default:
		return fmt.Errorf("%w: %s", ErrHostKeyBlocked, r.Reason)
	}
}

// Entry is one trusted host:port.
type Entry struct {
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Fingerprint string    `json:"fingerprint"`
	Source      Source    `json:"source"`
	TrustedAt   time.Time `json:"trustedAt"`
}

type document struct {
	Entries map[string]Entry `json:"entries"`
}

// Fingerprint returns the SHA256 fingerprint of a host key ("SHA256:...").
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// Store is the persisted host:port to fingerprint mapping.
type Store struct {
	pathFn func() string
	log    *zap.Logger
	nowFn  func() time.Time

	mu         sync.Mutex
	loaded     bool
	loadedPath string
	entries    map[string]Entry
}

// NewStore creates a Store whose file location is read from pathFn on every
// call, so configuration changes take effect without a restart.
func NewStore(pathFn func() string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pathFn:  pathFn,
		log:     logger.With(zap.String("component", "hosttrust")),
		nowFn:   time.Now,
		entries: make(map[string]Entry),
	}
}

// SetNowFunc sets the clock used for TrustedAt timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// ensureLoaded (re)reads the file when nothing is loaded yet or the path
// changed. Caller must hold s.mu.
func (s *Store) ensureLoaded() {
	p := s.pathFn()
	if s.loaded && p == s.loadedPath {
		return
	}
	s.loaded = true
	s.loadedPath = p
	s.entries = make(map[string]Entry)

	if dir := filepath.Dir(p); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			s.log.Warn("cannot create trust store directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("cannot read trust store, starting empty", zap.String("path", p), zap.Error(err))
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("corrupt trust store, starting empty", zap.String("path", p), zap.Error(err))
		return
	}
	for k, e := range doc.Entries {
		s.entries[k] = e
	}
	s.log.Debug("trust store loaded", zap.String("path", p), zap.Int("entries", len(s.entries)))
}

// persist writes the current entries atomically. Caller must hold s.mu.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(document{Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trust store: %w", err)
	}
	p := s.loadedPath
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("create trust store directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".known_hosts-*.tmp")
	if err != nil {
		return fmt.Errorf("write trust store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write trust store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write trust store: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		s.log.Debug("chmod trust store", zap.Error(err))
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace trust store: %w", err)
	}
	return nil
}

// VerifyFingerprint decides whether fingerprint is acceptable for srv under
// policy. Under PolicyTOFU an unseen host is recorded before returning; the
// returned error is non-nil only when that write fails.
func (s *Store) VerifyFingerprint(srv remote.Server, fingerprint string, policy Policy) (Result, error) {
	if policy == PolicyOff {
		return Result{Allowed: true, Reason: ReasonPolicyOff, Actual: fingerprint}, nil
	}

	id := remote.HostPort(srv.Host, srv.EffectivePort())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	entry, known := s.entries[id]
	if !known {
		if policy == PolicyStrict {
			s.log.Warn("unknown host rejected by strict policy",
				zap.String("host", logutil.SanitizeForLog(id)), zap.String("fingerprint", fingerprint))
			return Result{Allowed: false, Reason: ReasonUnknownHost, Actual: fingerprint}, nil
		}
		s.entries[id] = s.newEntry(srv, fingerprint, SourceTOFU)
		if err := s.persist(); err != nil {
			delete(s.entries, id)
			return Result{Allowed: false, Reason: ReasonUnknownHost, Actual: fingerprint}, err
		}
		s.log.Info("trusted new host key on first use",
			zap.String("host", logutil.SanitizeForLog(id)), zap.String("fingerprint", fingerprint))
		return Result{Allowed: true, Reason: ReasonTrustedNow, Actual: fingerprint}, nil
	}

	if entry.Fingerprint == fingerprint {
		return Result{Allowed: true, Reason: ReasonMatch, Actual: fingerprint}, nil
	}

	s.log.Warn("host key fingerprint mismatch",
		zap.String("host", logutil.SanitizeForLog(id)),
		zap.String("expected", entry.Fingerprint),
		zap.String("actual", fingerprint))
	return Result{Allowed: false, Reason: ReasonMismatch, Expected: entry.Fingerprint, Actual: fingerprint}, nil
}

func (s *Store) newEntry(srv remote.Server, fingerprint string, source Source) Entry {
	return Entry{
		Host:        strings.ToLower(strings.TrimSpace(srv.Host)),
		Port:        srv.EffectivePort(),
		Fingerprint: fingerprint,
		Source:      source,
		TrustedAt:   s.nowFn().UTC(),
	}
}

// TrustFingerprint records fingerprint for host:port, replacing any
// existing entry.
func (s *Store) TrustFingerprint(host string, port int, fingerprint string, source Source) error {
	if fingerprint == "" {
		return fmt.Errorf("trust %s: empty fingerprint", remote.HostPort(host, port))
	}
	srv := remote.Server{Host: host, Port: port}
	id := remote.HostPort(host, port)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	prev, had := s.entries[id]
	s.entries[id] = s.newEntry(srv, fingerprint, source)
	if err := s.persist(); err != nil {
		if had {
			s.entries[id] = prev
		} else {
			delete(s.entries, id)
		}
		return err
	}
	s.log.Info("host key trusted",
		zap.String("host", logutil.SanitizeForLog(id)),
		zap.String("fingerprint", fingerprint),
		zap.String("source", string(source)))
	return nil
}

// RemoveTrust deletes the entry for host:port. It reports whether an entry
// existed.
func (s *Store) RemoveTrust(host string, port int) (bool, error) {
	id := remote.HostPort(host, port)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	prev, had := s.entries[id]
	if !had {
		return false, nil
	}
	delete(s.entries, id)
	if err := s.persist(); err != nil {
		s.entries[id] = prev
		return false, err
	}
	s.log.Info("host key trust removed", zap.String("host", logutil.SanitizeForLog(id)))
	return true, nil
}

// ListEntries returns all entries sorted by host then port.
func (s *Store) ListEntries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// GetTrustedEntry returns the entry for host:port, if any.
func (s *Store) GetTrustedEntry(host string, port int) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	e, ok := s.entries[remote.HostPort(host, port)]
	return e, ok
}

// Path returns the file location currently in effect.
func (s *Store) Path() string {
	return s.pathFn()
}
