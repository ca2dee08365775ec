// Package transfer runs file operations against remote servers. Every
// operation is admitted through the transfer queue, validates its paths with
// the path guard before touching the network and uses the pooled connection
// for its server.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/sftpsync/internal/database"
	"github.com/gluk-w/claworc/sftpsync/internal/logutil"
	"github.com/gluk-w/claworc/sftpsync/internal/pathguard"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/sftpconn"
	"github.com/gluk-w/claworc/sftpsync/internal/transferlog"
	"github.com/gluk-w/claworc/sftpsync/internal/transferqueue"
)

// Pool is the part of the connection manager the service needs.
type Pool interface {
	WithConnection(ctx context.Context, srv remote.Server, fn func(sftpconn.Client) error) error
	EnsureDir(ctx context.Context, srv remote.Server, dir string) error
}

// Recorder persists operation outcomes.
type Recorder interface {
	Log(entry transferlog.Entry) (*database.TransferRecord, error)
}

// Options configures a Service. Audit may be nil.
type Options struct {
	Pool          Pool
	Queue         *transferqueue.Queue
	Guard         pathguard.Guard
	WorkspaceRoot string
	CriticalPaths []string
	Audit         Recorder
	Logger        *zap.Logger
}

// Service performs queued transfers for one workspace.
type Service struct {
	pool     Pool
	queue    *transferqueue.Queue
	guard    pathguard.Guard
	root     string
	critical []string
	audit    Recorder
	log      *zap.Logger
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	root := opts.WorkspaceRoot
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Service{
		pool:     opts.Pool,
		queue:    opts.Queue,
		guard:    opts.Guard,
		root:     root,
		critical: opts.CriticalPaths,
		audit:    opts.Audit,
		log:      logger.With(zap.String("component", "transfer")),
	}
}

// Entry is one item of a remote directory listing.
type Entry struct {
	Name    string      `json:"name"`
	Path    string      `json:"path"`
	Size    int64       `json:"size"`
	Mode    os.FileMode `json:"mode"`
	ModTime time.Time   `json:"mod_time"`
	IsDir   bool        `json:"is_dir"`
}

// Listing is the future of a List call. Entries is set once Done is closed
// without error.
type Listing struct {
	*transferqueue.Future
	Entries []Entry
}

func baseOf(srv remote.Server) string {
	if srv.RemoteBasePath == "" {
		return "/"
	}
	return pathguard.NormalizeRemotePath(srv.RemoteBasePath)
}

// canceled reports cooperative cancellation in the queue's terms.
func canceled(ctx context.Context, label string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", label, transferqueue.ErrOperationCanceled)
	}
	return nil
}

// copyBufferSize is the chunk between cancellation checks during a copy.
const copyBufferSize = 32 * 1024

// copyWithContext copies src to dst, checking ctx before every chunk.
func copyWithContext(ctx context.Context, label string, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := canceled(ctx, label); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (s *Service) record(srv remote.Server, op, local, remotePath string, n int64, start time.Time, err error) {
	if err != nil {
		s.log.Warn("transfer failed",
			zap.String("operation", op),
			zap.String("server", string(srv.Key())),
			logutil.Path("remote", remotePath),
			zap.Error(err))
	}
	if s.audit == nil {
		return
	}
	if _, aerr := s.audit.Log(transferlog.Entry{
		ServerKey:  string(srv.Key()),
		Operation:  op,
		LocalPath:  local,
		RemotePath: remotePath,
		Bytes:      n,
		Duration:   time.Since(start),
		Err:        err,
	}); aerr != nil {
		s.log.Warn("could not record transfer", zap.Error(aerr))
	}
}

// Upload copies localPath, which must be inside the workspace, to the
// matching path under the server's remote base.
func (s *Service) Upload(ctx context.Context, srv remote.Server, localPath string) *transferqueue.Future {
	label := "upload " + localPath
	return s.queue.Enqueue(ctx, func(ctx context.Context) error {
		start := time.Now()
		var remotePath string
		local := localPath
		n, err := func() (int64, error) {
			abs, err := s.guard.AssertLocalPathInsideWorkspace(s.root, localPath)
			if err != nil {
				return 0, err
			}
			local = abs
			rel, err := filepath.Rel(s.root, abs)
			if err != nil {
				return 0, err
			}
			remotePath, err = s.guard.AssertRemotePathSafe(baseOf(srv), filepath.ToSlash(rel))
			if err != nil {
				return 0, err
			}

			info, err := os.Stat(abs)
			if err != nil {
				return 0, err
			}
			if info.IsDir() {
				return 0, fmt.Errorf("%s is a directory", abs)
			}

			if err := s.pool.EnsureDir(ctx, srv, path.Dir(remotePath)); err != nil {
				return 0, err
			}
			if err := canceled(ctx, label); err != nil {
				return 0, err
			}

			var written int64
			err = s.pool.WithConnection(ctx, srv, func(c sftpconn.Client) error {
				f, err := os.Open(abs)
				if err != nil {
					return err
				}
				defer f.Close()
				w, err := c.Create(remotePath)
				if err != nil {
					return fmt.Errorf("create %s: %w", remotePath, err)
				}
				written, err = copyWithContext(ctx, label, w, f)
				if cerr := w.Close(); err == nil && cerr != nil {
					err = fmt.Errorf("close %s: %w", remotePath, cerr)
				}
				return err
			})
			return written, err
		}()
		s.record(srv, transferlog.OpUpload, local, remotePath, n, start, err)
		return err
	}, label)
}

// Download copies remotePath, which must be under the server's remote base,
// to the matching path inside the workspace.
func (s *Service) Download(ctx context.Context, srv remote.Server, remotePath string) *transferqueue.Future {
	label := "download " + remotePath
	return s.queue.Enqueue(ctx, func(ctx context.Context) error {
		start := time.Now()
		var local string
		target := remotePath
		n, err := func() (int64, error) {
			base := baseOf(srv)
			norm, err := s.guard.AssertRemotePathSafe(base, remotePath)
			if err != nil {
				return 0, err
			}
			target = norm
			rel := strings.TrimPrefix(strings.TrimPrefix(norm, base), "/")
			if rel == "" {
				return 0, fmt.Errorf("%s is the remote base directory", norm)
			}
			local, err = s.guard.AssertLocalPathInsideWorkspace(s.root, filepath.FromSlash(rel))
			if err != nil {
				return 0, err
			}
			if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
				return 0, fmt.Errorf("create local directory: %w", err)
			}

			var written int64
			err = s.pool.WithConnection(ctx, srv, func(c sftpconn.Client) error {
				r, err := c.Open(norm)
				if err != nil {
					return fmt.Errorf("open %s: %w", norm, err)
				}
				defer r.Close()
				// the existing workspace file is only replaced once the copy is complete
				f, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".part-*")
				if err != nil {
					return err
				}
				written, err = copyWithContext(ctx, label, f, r)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err == nil {
					err = os.Rename(f.Name(), local)
				}
				if err != nil {
					os.Remove(f.Name())
				}
				return err
			})
			return written, err
		}()
		s.record(srv, transferlog.OpDownload, local, target, n, start, err)
		return err
	}, label)
}

// Delete removes remotePath, recursively for directories. Critical paths are
// refused regardless of the remote base.
func (s *Service) Delete(ctx context.Context, srv remote.Server, remotePath string) *transferqueue.Future {
	label := "delete " + remotePath
	return s.queue.Enqueue(ctx, func(ctx context.Context) error {
		start := time.Now()
		target := remotePath
		err := func() error {
			norm, err := s.guard.AssertRemotePathSafe(baseOf(srv), remotePath)
			if err != nil {
				return err
			}
			target = norm
			if err := s.guard.AssertNotCritical(norm, s.critical); err != nil {
				return err
			}
			return s.pool.WithConnection(ctx, srv, func(c sftpconn.Client) error {
				return s.removeAll(ctx, label, c, norm)
			})
		}()
		s.record(srv, transferlog.OpDelete, "", target, 0, start, err)
		return err
	}, label)
}

func (s *Service) removeAll(ctx context.Context, label string, c sftpconn.Client, p string) error {
	if err := canceled(ctx, label); err != nil {
		return err
	}
	info, err := c.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if !info.IsDir() {
		if err := c.Remove(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
		return nil
	}

	children, err := c.ReadDir(p)
	if err != nil {
		return fmt.Errorf("list %s: %w", p, err)
	}
	for _, child := range children {
		if err := s.removeAll(ctx, label, c, path.Join(p, child.Name())); err != nil {
			return err
		}
	}
	if err := canceled(ctx, label); err != nil {
		return err
	}
	if err := c.RemoveDirectory(p); err != nil {
		return fmt.Errorf("remove directory %s: %w", p, err)
	}
	return nil
}

// List reads remotePath, which must be under the server's remote base.
// Entries are sorted by name.
func (s *Service) List(ctx context.Context, srv remote.Server, remotePath string) *Listing {
	label := "list " + remotePath
	l := &Listing{}
	l.Future = s.queue.Enqueue(ctx, func(ctx context.Context) error {
		start := time.Now()
		target := remotePath
		err := func() error {
			norm, err := s.guard.AssertRemotePathSafe(baseOf(srv), remotePath)
			if err != nil {
				return err
			}
			target = norm
			return s.pool.WithConnection(ctx, srv, func(c sftpconn.Client) error {
				infos, err := c.ReadDir(norm)
				if err != nil {
					return fmt.Errorf("list %s: %w", norm, err)
				}
				entries := make([]Entry, 0, len(infos))
				for _, fi := range infos {
					entries = append(entries, Entry{
						Name:    fi.Name(),
						Path:    path.Join(norm, fi.Name()),
						Size:    fi.Size(),
						Mode:    fi.Mode(),
						ModTime: fi.ModTime(),
						IsDir:   fi.IsDir(),
					})
				}
				sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
				l.Entries = entries
				return nil
			})
		}()
		s.record(srv, transferlog.OpList, "", target, 0, start, err)
		return err
	}, label)
	return l
}
