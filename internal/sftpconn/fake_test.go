package sftpconn

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sftpsync/internal/config"
)

var errNotImplemented = errors.New("not implemented by fake")

// fakeClient is an in-memory Client whose transport can be dropped on demand.
type fakeClient struct {
	mu       sync.Mutex
	done     chan struct{}
	once     sync.Once
	closes   int
	mkdirs   []string
	mkdirErr error
	hang     chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{done: make(chan struct{})}
}

// drop simulates the remote end closing the connection.
func (c *fakeClient) drop() { c.once.Do(func() { close(c.done) }) }

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeClient) mkdirCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.mkdirs...)
}

func (c *fakeClient) Stat(string) (os.FileInfo, error)      { return nil, errNotImplemented }
func (c *fakeClient) ReadDir(string) ([]os.FileInfo, error) { return nil, errNotImplemented }
func (c *fakeClient) Mkdir(string) error                    { return errNotImplemented }
func (c *fakeClient) Remove(string) error                   { return errNotImplemented }
func (c *fakeClient) RemoveDirectory(string) error          { return errNotImplemented }
func (c *fakeClient) Open(string) (io.ReadCloser, error)    { return nil, errNotImplemented }
func (c *fakeClient) Create(string) (io.WriteCloser, error) { return nil, errNotImplemented }
func (c *fakeClient) Exists(string) (bool, error)           { return false, errNotImplemented }

func (c *fakeClient) MkdirAll(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mkdirs = append(c.mkdirs, p)
	return c.mkdirErr
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closes++
	hang := c.hang
	c.mu.Unlock()
	if hang != nil {
		<-hang
	}
	c.drop()
	return nil
}

func (c *fakeClient) Done() <-chan struct{} { return c.done }
func (c *fakeClient) Err() error            { return nil }

// fakeDialer counts Dial calls, presents a fixed host key and can be told to
// fail or block.
type fakeDialer struct {
	hostKey ssh.PublicKey

	mu        sync.Mutex
	dials     int
	gate      chan struct{}
	failures  int
	failErr   error
	failAddrs map[string]error
	clients   []*fakeClient
	opts      []ConnectOptions
}

func newFakeDialer(t *testing.T) *fakeDialer {
	t.Helper()
	return &fakeDialer{hostKey: newHostKey(t)}
}

func newHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap host key: %v", err)
	}
	return key
}

func (d *fakeDialer) Dial(ctx context.Context, opts ConnectOptions) (Client, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	gate := d.gate
	d.opts = append(d.opts, opts)
	addrErr := d.failAddrs[opts.Addr]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if opts.HostKeyCallback != nil {
		if err := opts.HostKeyCallback(opts.Addr, nil, d.hostKey); err != nil {
			return nil, fmt.Errorf("ssh: handshake failed: %w", err)
		}
	}
	if addrErr != nil {
		return nil, addrErr
	}
	if n <= d.failures {
		return nil, d.failErr
	}

	c := newFakeClient()
	d.mu.Lock()
	d.clients = append(d.clients, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastClient() *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

type staticSettings struct {
	tuning   config.TransferTuning
	security config.SecurityPolicy
}

func (s staticSettings) TransferTuning() config.TransferTuning { return s.tuning }
func (s staticSettings) SecurityPolicy() config.SecurityPolicy { return s.security }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
