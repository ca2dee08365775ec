package sftpconn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gluk-w/claworc/sftpsync/internal/config"
	"github.com/gluk-w/claworc/sftpsync/internal/credentials"
	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

// CredentialResolver resolves secret fields of a server before connecting.
type CredentialResolver interface {
	Resolve(ctx context.Context, srv remote.Server, workspace string, opts credentials.ResolveOptions) (credentials.Resolution, error)
}

// TrustVerifier checks and records host-key fingerprints.
type TrustVerifier interface {
	VerifyFingerprint(srv remote.Server, fingerprint string, policy hosttrust.Policy) (hosttrust.Result, error)
	TrustFingerprint(host string, port int, fingerprint string, source hosttrust.Source) error
}

// TuningProvider supplies connect timeouts and retry counts. It is read on
// every connect.
type TuningProvider interface {
	TransferTuning() config.TransferTuning
}

// PolicyProvider supplies the host-key policy and credential migration
// switch. It is read on every connect.
type PolicyProvider interface {
	SecurityPolicy() config.SecurityPolicy
}

// Options configures a Manager. Dialer defaults to SSHDialer; a nil
// Credentials uses each server's fields as given; a nil Trust accepts every
// host key.
type Options struct {
	Dialer      Dialer
	Credentials CredentialResolver
	Trust       TrustVerifier
	Tuning      TuningProvider
	Policy      PolicyProvider
	Workspace   string
	Logger      *zap.Logger
}

type pooledConn struct {
	server      remote.Server
	client      Client
	connectedAt time.Time
	lastUsed    time.Time
	// inUse counts operations currently borrowing the client; the reaper
	// skips the connection while it is positive.
	inUse int
}

// Manager owns the connection pool and everything keyed by connection key.
type Manager struct {
	dialer    Dialer
	creds     CredentialResolver
	trust     TrustVerifier
	tuning    TuningProvider
	policy    PolicyProvider
	workspace string
	log       *zap.Logger

	mu          sync.Mutex
	pool        map[remote.Key]*pooledConn
	known       map[remote.Key]remote.Server
	dirs        map[remote.Key]map[string]struct{}
	validations map[remote.Key]hostCheck
	disposed    bool

	inflight singleflight.Group
	ctx      context.Context
	cancel   context.CancelFunc
	reaper   *cron.Cron

	states *stateTracker
	events *eventLog
	nowFn  func() time.Time
}

// New creates a Manager and starts its idle reaper.
func New(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = SSHDialer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:      dialer,
		creds:       opts.Credentials,
		trust:       opts.Trust,
		tuning:      opts.Tuning,
		policy:      opts.Policy,
		workspace:   opts.Workspace,
		log:         log.With(zap.String("component", "sftpconn")),
		pool:        make(map[remote.Key]*pooledConn),
		known:       make(map[remote.Key]remote.Server),
		dirs:        make(map[remote.Key]map[string]struct{}),
		validations: make(map[remote.Key]hostCheck),
		ctx:         ctx,
		cancel:      cancel,
		events:      newEventLog(),
		nowFn:       time.Now,
	}
	m.states = newStateTracker(m.now)
	m.startReaper()
	return m
}

// SetNowFunc replaces the clock used for idle accounting and event stamps.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = fn
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowFn()
}

func (m *Manager) transferTuning() config.TransferTuning {
	if m.tuning == nil {
		return config.TransferTuning{}
	}
	return m.tuning.TransferTuning()
}

func (m *Manager) securityPolicy() config.SecurityPolicy {
	if m.policy == nil {
		return config.SecurityPolicy{HostKeyPolicy: string(hosttrust.PolicyTOFU)}
	}
	return m.policy.SecurityPolicy()
}

// publicServer strips secrets before a server is kept for status output.
func publicServer(srv remote.Server) remote.Server {
	srv.Password = ""
	srv.Passphrase = ""
	return srv
}

// pooled returns the live pooled client for key, evicting a dead one.
func (m *Manager) pooled(key remote.Key) (Client, bool) {
	m.mu.Lock()
	pc, ok := m.pool[key]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	if isAlive(pc.client) {
		pc.lastUsed = m.nowFn()
		m.mu.Unlock()
		return pc.client, true
	}
	delete(m.pool, key)
	delete(m.dirs, key)
	m.mu.Unlock()

	m.log.Info("discarding dead pooled connection", zap.String("key", string(key)))
	m.states.set(key, StateClosed, "transport no longer open")
	m.emit(key, EventDisconnected, "transport no longer open")
	go m.closeWithTimeout(key, pc.client)
	return nil, false
}

// GetConnection returns a live client for srv, reusing the pooled one when its
// transport is still open. Concurrent callers for one key share a single
// connect. ctx bounds only this caller's wait; the shared connect runs until
// it succeeds, exhausts its retries or the Manager is disposed.
func (m *Manager) GetConnection(ctx context.Context, srv remote.Server) (Client, error) {
	key := srv.Key()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	m.known[key] = publicServer(srv)
	m.mu.Unlock()

	if c, ok := m.pooled(key); ok {
		return c, nil
	}

	ch := m.inflight.DoChan(string(key), func() (any, error) {
		return m.connect(m.ctx, srv)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Client), nil
	}
}

// WithConnection runs fn on the pooled client for srv. The connection is not
// reaped while fn runs and is marked used when fn returns.
func (m *Manager) WithConnection(ctx context.Context, srv remote.Server, fn func(Client) error) error {
	c, release, err := m.borrow(ctx, srv)
	if err != nil {
		return err
	}
	defer release()
	return fn(c)
}

// borrow is GetConnection plus an in-use mark that release undoes.
func (m *Manager) borrow(ctx context.Context, srv remote.Server) (Client, func(), error) {
	c, err := m.GetConnection(ctx, srv)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	pc, ok := m.pool[srv.Key()]
	if !ok || pc.client != c {
		m.mu.Unlock()
		return c, func() {}, nil
	}
	pc.inUse++
	m.mu.Unlock()

	var once sync.Once
	return c, func() {
		once.Do(func() {
			m.mu.Lock()
			pc.inUse--
			pc.lastUsed = m.nowFn()
			m.mu.Unlock()
		})
	}, nil
}

// adopt pools a freshly dialed client and starts watching its transport.
func (m *Manager) adopt(key remote.Key, srv remote.Server, client Client) (Client, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.closeWithTimeout(key, client)
		return nil, ErrDisposed
	}
	now := m.nowFn()
	pc := &pooledConn{server: publicServer(srv), client: client, connectedAt: now, lastUsed: now}
	m.pool[key] = pc
	m.mu.Unlock()

	m.states.set(key, StateAlive, "connected")
	m.emit(key, EventConnected, srv.Addr())
	m.log.Info("connected", zap.String("key", string(key)))

	go m.watch(key, pc)
	return client, nil
}

// watch evicts pc when its transport closes, ends or errors.
func (m *Manager) watch(key remote.Key, pc *pooledConn) {
	<-pc.client.Done()

	m.mu.Lock()
	current := m.pool[key] == pc
	if current {
		delete(m.pool, key)
		delete(m.dirs, key)
	}
	m.mu.Unlock()
	if !current {
		return
	}

	reason := "transport closed"
	if err := pc.client.Err(); err != nil {
		reason = err.Error()
	}
	m.log.Info("connection lost", zap.String("key", string(key)), zap.String("reason", reason))
	m.states.set(key, StateClosed, reason)
	m.emit(key, EventDisconnected, reason)
}

// closeTimeout bounds a graceful transport shutdown.
var closeTimeout = 3 * time.Second

// closeWithTimeout closes c, giving up after closeTimeout. Errors are logged
// and otherwise ignored.
func (m *Manager) closeWithTimeout(key remote.Key, c Client) {
	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	timer := time.NewTimer(closeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			m.log.Debug("close error ignored", zap.String("key", string(key)), zap.Error(err))
		}
	case <-timer.C:
		m.log.Warn("close timed out", zap.String("key", string(key)), zap.Duration("timeout", closeTimeout))
	}
}

// evict removes key from the pool and shuts its transport down.
func (m *Manager) evict(key remote.Key, typ EventType, reason string) bool {
	m.mu.Lock()
	pc, ok := m.pool[key]
	if ok {
		delete(m.pool, key)
		delete(m.dirs, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.states.set(key, StateClosing, reason)
	m.closeWithTimeout(key, pc.client)
	m.states.set(key, StateClosed, reason)
	m.emit(key, typ, reason)
	return true
}

// CloseConnection closes the pooled connection for key, or returns
// ErrNotConnected when there is none.
func (m *Manager) CloseConnection(key remote.Key) error {
	if !m.evict(key, EventDisconnected, "closed by request") {
		return fmt.Errorf("close %s: %w", key, ErrNotConnected)
	}
	return nil
}

// CloseAll closes every pooled connection concurrently.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	keys := make([]remote.Key, 0, len(m.pool))
	for key := range m.pool {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.evict(key, EventDisconnected, "closed by request")
		}()
	}
	wg.Wait()
}

// Dispose stops the reaper, cancels in-flight connects and closes every
// connection. Further calls are no-ops; other operations fail with
// ErrDisposed.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()

	m.cancel()
	<-m.reaper.Stop().Done()
	m.CloseAll()
	m.log.Info("connection manager disposed")
}

// IsConnected reports whether a live pooled connection exists for srv.
func (m *Manager) IsConnected(srv remote.Server) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pool[srv.Key()]
	return ok && isAlive(pc.client)
}

// PreConnectResult is the outcome of connecting one server in PreConnectAll.
type PreConnectResult struct {
	Server  remote.Server
	Success bool
	Err     error
}

// PreConnectAll connects to every server in parallel. It never fails as a
// whole; results are in the order of servers.
func (m *Manager) PreConnectAll(ctx context.Context, servers []remote.Server) []PreConnectResult {
	results := make([]PreConnectResult, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetConnection(ctx, srv)
			results[i] = PreConnectResult{Server: publicServer(srv), Success: err == nil, Err: err}
		}()
	}
	wg.Wait()
	return results
}

// Status describes one known connection key.
type Status struct {
	Key         remote.Key `json:"key"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	Username    string     `json:"username"`
	State       State      `json:"state"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	CachedDirs  int        `json:"cached_dirs"`
}

func (m *Manager) statusLocked(key remote.Key, srv remote.Server) Status {
	st := Status{
		Key:      key,
		Host:     srv.Host,
		Port:     srv.EffectivePort(),
		Username: srv.Username,
		State:    m.states.get(key),
	}
	if pc, ok := m.pool[key]; ok {
		connectedAt, lastUsed := pc.connectedAt, pc.lastUsed
		st.ConnectedAt = &connectedAt
		st.LastUsed = &lastUsed
	}
	st.CachedDirs = len(m.dirs[key])
	return st
}

// GetConnectionStatus returns the status of every key this Manager has seen,
// sorted by key.
func (m *Manager) GetConnectionStatus() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.known))
	for key, srv := range m.known {
		out = append(out, m.statusLocked(key, srv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ConnectionStatus returns the status of one key.
func (m *Manager) ConnectionStatus(key remote.Key) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.known[key]
	if !ok {
		return Status{}, false
	}
	return m.statusLocked(key, srv), true
}

func (m *Manager) recordValidation(key remote.Key, check hostCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[key] = check
}

func (m *Manager) clearValidation(key remote.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.validations, key)
}

// LastValidation returns the host-key result of the most recent failed
// connect for key. A successful connect clears it.
func (m *Manager) LastValidation(key remote.Key) (hosttrust.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	check, ok := m.validations[key]
	if !ok || !check.Checked {
		return hosttrust.Result{}, false
	}
	return check.Result, true
}
