// transport.go defines the transport surface the Manager pools and the
// SSH/SFTP implementation of it.

package sftpconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client is one live file-transfer session. Done is closed when the
// underlying transport reports close, end or error; Err then returns the
// reason (nil for an orderly close).
type Client interface {
	Stat(p string) (os.FileInfo, error)
	ReadDir(p string) ([]os.FileInfo, error)
	Mkdir(p string) error
	MkdirAll(p string) error
	Remove(p string) error
	RemoveDirectory(p string) error
	Open(p string) (io.ReadCloser, error)
	Create(p string) (io.WriteCloser, error)
	Exists(p string) (bool, error)

	Close() error
	Done() <-chan struct{}
	Err() error
}

// ConnectOptions is everything a Dialer needs for one attempt.
type ConnectOptions struct {
	Addr            string
	User            string
	Auth            []ssh.AuthMethod
	Timeout         time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

// Dialer opens Clients. Implementations must invoke HostKeyCallback during
// the handshake and fail the dial when it returns an error.
type Dialer interface {
	Dial(ctx context.Context, opts ConnectOptions) (Client, error)
}

// isAlive reports whether c's transport is still open without doing I/O.
func isAlive(c Client) bool {
	select {
	case <-c.Done():
		return false
	default:
		return true
	}
}

// SSHDialer dials SSH and starts the SFTP subsystem on the connection.
type SSHDialer struct {
	// ClientOptions are passed through to sftp.NewClient.
	ClientOptions []sftp.ClientOption
}

func (d SSHDialer) Dial(ctx context.Context, opts ConnectOptions) (Client, error) {
	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            opts.Auth,
		HostKeyCallback: opts.HostKeyCallback,
		Timeout:         opts.Timeout,
	}

	dialer := net.Dialer{Timeout: opts.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Addr, err)
	}

	// the handshake does not observe ctx, so bound it with a deadline
	if opts.Timeout > 0 {
		netConn.SetDeadline(time.Now().Add(opts.Timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, opts.Addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", opts.Addr, err)
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	sc, err := sftp.NewClient(client, d.ClientOptions...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("start sftp subsystem on %s: %w", opts.Addr, err)
	}

	t := &sftpTransport{ssh: client, sftp: sc, done: make(chan struct{})}
	go t.wait()
	return t, nil
}

type sftpTransport struct {
	ssh  *ssh.Client
	sftp *sftp.Client

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closing   bool
}

// wait blocks until the SSH connection ends and then marks the transport done.
func (t *sftpTransport) wait() {
	err := t.ssh.Wait()
	t.mu.Lock()
	if !t.closing && err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *sftpTransport) Stat(p string) (os.FileInfo, error)    { return t.sftp.Stat(p) }
func (t *sftpTransport) ReadDir(p string) ([]os.FileInfo, error) { return t.sftp.ReadDir(p) }
func (t *sftpTransport) Mkdir(p string) error                    { return t.sftp.Mkdir(p) }
func (t *sftpTransport) MkdirAll(p string) error                 { return t.sftp.MkdirAll(p) }
func (t *sftpTransport) Remove(p string) error                   { return t.sftp.Remove(p) }
func (t *sftpTransport) RemoveDirectory(p string) error          { return t.sftp.RemoveDirectory(p) }

func (t *sftpTransport) Open(p string) (io.ReadCloser, error) {
	f, err := t.sftp.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (t *sftpTransport) Create(p string) (io.WriteCloser, error) {
	f, err := t.sftp.Create(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (t *sftpTransport) Exists(p string) (bool, error) {
	_, err := t.sftp.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (t *sftpTransport) Close() error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	sftpErr := t.sftp.Close()
	sshErr := t.ssh.Close()
	if sshErr != nil && !errors.Is(sshErr, net.ErrClosed) {
		return sshErr
	}
	if sftpErr != nil && !errors.Is(sftpErr, io.EOF) && !errors.Is(sftpErr, net.ErrClosed) {
		return sftpErr
	}
	return nil
}

func (t *sftpTransport) Done() <-chan struct{} { return t.done }

func (t *sftpTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
