package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/claworc/sftpsync/internal/database"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/sftpconn"
	"github.com/gluk-w/claworc/sftpsync/internal/transferlog"
)

// memClient is an in-memory sftpconn.Client.
type memClient struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	done  chan struct{}
}

func newMemClient() *memClient {
	return &memClient{files: map[string][]byte{}, dirs: map[string]bool{"/": true}, done: make(chan struct{})}
}

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.size }
func (i memInfo) Mode() os.FileMode {
	if i.dir {
		return os.ModeDir | 0755
	}
	return 0644
}
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() any           { return nil }

func notExist(op, p string) error { return &os.PathError{Op: op, Path: p, Err: os.ErrNotExist} }

func (c *memClient) put(p, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d := path.Dir(p); ; d = path.Dir(d) {
		c.dirs[d] = true
		if d == "/" {
			break
		}
	}
	c.files[p] = []byte(body)
}

func (c *memClient) get(p string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.files[p]
	return string(b), ok
}

func (c *memClient) Stat(p string) (os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.files[p]; ok {
		return memInfo{name: path.Base(p), size: int64(len(b))}, nil
	}
	if c.dirs[p] {
		return memInfo{name: path.Base(p), dir: true}, nil
	}
	return nil, notExist("stat", p)
}

func (c *memClient) ReadDir(p string) ([]os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirs[p] {
		return nil, notExist("readdir", p)
	}
	var out []os.FileInfo
	for f, b := range c.files {
		if path.Dir(f) == p {
			out = append(out, memInfo{name: path.Base(f), size: int64(len(b))})
		}
	}
	for d := range c.dirs {
		if d != "/" && path.Dir(d) == p {
			out = append(out, memInfo{name: path.Base(d), dir: true})
		}
	}
	// reverse name order; List must sort
	sort.Slice(out, func(i, j int) bool { return out[i].Name() > out[j].Name() })
	return out, nil
}

func (c *memClient) Mkdir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs[p] = true
	return nil
}

func (c *memClient) MkdirAll(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d := p; ; d = path.Dir(d) {
		c.dirs[d] = true
		if d == "/" {
			return nil
		}
	}
}

func (c *memClient) Remove(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[p]; !ok {
		return notExist("remove", p)
	}
	delete(c.files, p)
	return nil
}

func (c *memClient) RemoveDirectory(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for f := range c.files {
		if strings.HasPrefix(f, p+"/") {
			return errors.New("directory not empty")
		}
	}
	for d := range c.dirs {
		if strings.HasPrefix(d, p+"/") {
			return errors.New("directory not empty")
		}
	}
	delete(c.dirs, p)
	return nil
}

func (c *memClient) Open(p string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.files[p]
	if !ok {
		return nil, notExist("open", p)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type memWriter struct {
	c   *memClient
	p   string
	buf bytes.Buffer
}

func (w *memWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }
func (w *memWriter) Close() error {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.c.files[w.p] = w.buf.Bytes()
	return nil
}

func (c *memClient) Create(p string) (io.WriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirs[path.Dir(p)] {
		return nil, notExist("create", p)
	}
	return &memWriter{c: c, p: p}, nil
}

func (c *memClient) Exists(p string) (bool, error) {
	_, err := c.Stat(p)
	return err == nil, nil
}

func (c *memClient) Close() error          { return nil }
func (c *memClient) Done() <-chan struct{} { return c.done }
func (c *memClient) Err() error            { return nil }

// fakePool hands out one memClient for every server.
type fakePool struct {
	client *memClient

	mu       sync.Mutex
	uses     int
	ensured  []string
	connFail error
	// onUse runs inside WithConnection before fn.
	onUse func()
}

func (p *fakePool) WithConnection(_ context.Context, _ remote.Server, fn func(sftpconn.Client) error) error {
	p.mu.Lock()
	p.uses++
	fail, onUse := p.connFail, p.onUse
	p.mu.Unlock()
	if fail != nil {
		return fail
	}
	if onUse != nil {
		onUse()
	}
	return fn(p.client)
}

func (p *fakePool) EnsureDir(_ context.Context, _ remote.Server, dir string) error {
	p.mu.Lock()
	p.ensured = append(p.ensured, dir)
	fail := p.connFail
	p.mu.Unlock()
	if fail != nil {
		return fail
	}
	return p.client.MkdirAll(dir)
}

func (p *fakePool) useCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uses
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []transferlog.Entry
}

func (r *fakeRecorder) Log(e transferlog.Entry) (*database.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return &database.TransferRecord{ServerKey: e.ServerKey, Operation: e.Operation}, nil
}

func (r *fakeRecorder) all() []transferlog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transferlog.Entry(nil), r.entries...)
}
