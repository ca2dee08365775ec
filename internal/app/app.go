// Package app wires the sftpsync components together from settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gluk-w/claworc/sftpsync/internal/config"
	"github.com/gluk-w/claworc/sftpsync/internal/credentials"
	"github.com/gluk-w/claworc/sftpsync/internal/crypto"
	"github.com/gluk-w/claworc/sftpsync/internal/database"
	"github.com/gluk-w/claworc/sftpsync/internal/handlers"
	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/logging"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/secrets"
	"github.com/gluk-w/claworc/sftpsync/internal/sftpconn"
	"github.com/gluk-w/claworc/sftpsync/internal/transfer"
	"github.com/gluk-w/claworc/sftpsync/internal/transferlog"
	"github.com/gluk-w/claworc/sftpsync/internal/transferqueue"
)

// Options overrides parts of the wiring. The zero value builds everything
// from settings.
type Options struct {
	// Logger replaces the file and console logger built from settings.
	Logger *zap.Logger
	// LogToStderr sends console logs to stderr.
	LogToStderr bool
	// Dialer replaces the SSH dialer.
	Dialer sftpconn.Dialer
}

// App holds one workspace's wired components.
type App struct {
	Settings    *config.Settings
	Servers     []remote.Server
	Logger      *zap.Logger
	DB          *gorm.DB
	Credentials *credentials.Store
	Trust       *hosttrust.Store
	Manager     *sftpconn.Manager
	Queue       *transferqueue.Queue
	Audit       *transferlog.Auditor
	Transfers   *transfer.Service

	logCloser io.Closer
}

// New opens the database, loads the server list and builds every component.
// A missing servers file yields an empty server list.
func New(settings *config.Settings, opts Options) (*App, error) {
	a := &App{Settings: settings}

	if opts.Logger != nil {
		a.Logger = opts.Logger
	} else {
		logger, closer, err := logging.New(logging.Options{
			Level:  settings.LogLevel,
			Path:   settings.LogPath,
			Stderr: opts.LogToStderr,
		})
		if err != nil {
			return nil, err
		}
		a.Logger, a.logCloser = logger, closer
	}

	servers, err := config.LoadServers(settings.ServersFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.Logger.Warn("servers file not found, no servers configured", zap.String("path", settings.ServersFile))
	case err != nil:
		a.closeLog()
		return nil, err
	}
	a.Servers = servers

	db, err := database.Open(settings.DatabasePath)
	if err != nil {
		a.closeLog()
		return nil, err
	}
	a.DB = db

	storage := secrets.NewDBStorage(db, crypto.NewCipher(db), a.Logger)
	a.Credentials = credentials.NewStore(storage, a.Logger)
	a.Credentials.OnFirstMigration(func(srv remote.Server, fields []secrets.Field) {
		a.Logger.Warn("plaintext credentials were moved to secret storage; remove them from the servers file",
			zap.String("server", srv.Label()), zap.Int("fields", len(fields)))
	})

	a.Trust = hosttrust.NewStore(settings.TrustStoreLocation, a.Logger)

	a.Manager = sftpconn.New(sftpconn.Options{
		Dialer:      opts.Dialer,
		Credentials: a.Credentials,
		Trust:       a.Trust,
		Tuning:      settings,
		Policy:      settings,
		Workspace:   settings.WorkspaceID,
		Logger:      a.Logger,
	})

	a.Manager.OnEvent(a.logConnectionEvent)
	a.Manager.OnStateChange(func(key remote.Key, from, to sftpconn.State) {
		a.Logger.Debug("connection state changed",
			zap.String("key", string(key)), zap.Stringer("from", from), zap.Stringer("to", to))
	})

	a.Queue = transferqueue.New(settings.MaxConcurrent, a.Logger)
	a.Audit = transferlog.NewAuditor(db, settings.AuditRetentionDays, a.Logger)
	a.Transfers = transfer.NewService(transfer.Options{
		Pool:          a.Manager,
		Queue:         a.Queue,
		WorkspaceRoot: settings.WorkspaceRoot,
		CriticalPaths: settings.CriticalPaths,
		Audit:         a.Audit,
		Logger:        a.Logger,
	})
	return a, nil
}

// logConnectionEvent surfaces connection events that need an operator's
// attention.
func (a *App) logConnectionEvent(ev sftpconn.ConnectionEvent) {
	fields := []zap.Field{zap.String("key", string(ev.Key)), zap.String("details", ev.Details)}
	switch ev.Type {
	case sftpconn.EventHostKeyBlocked:
		a.Logger.Warn("host key blocked", fields...)
	case sftpconn.EventConnectFailed:
		a.Logger.Warn("connect failed", fields...)
	case sftpconn.EventHostTrusted:
		a.Logger.Info("host key trusted", fields...)
	}
}

// Server returns the configured server named name.
func (a *App) Server(name string) (remote.Server, error) {
	return config.FindServer(a.Servers, name)
}

// API returns the admin API over this App's components.
func (a *App) API() *handlers.API {
	return &handlers.API{
		Pool:    a.Manager,
		Trust:   a.Trust,
		Queue:   a.Queue,
		Audit:   a.Audit,
		DB:      a.DB,
		Servers: a.Servers,
		LogPath: a.Settings.LogPath,
		Logger:  a.Logger,
	}
}

// shutdownTimeout bounds graceful HTTP shutdown.
var shutdownTimeout = 10 * time.Second

// Serve runs the admin API until ctx is done, with the audit purge schedule
// running alongside. Servers are pre-connected first when preconnect is set.
func (a *App) Serve(ctx context.Context, preconnect bool) error {
	if err := a.Audit.StartPurgeSchedule(ctx); err != nil {
		return err
	}
	if preconnect && len(a.Servers) > 0 {
		for _, res := range a.Manager.PreConnectAll(ctx, a.Servers) {
			if res.Err != nil {
				a.Logger.Warn("preconnect failed", zap.String("server", res.Server.Label()), zap.Error(res.Err))
			}
		}
	}

	srv := &http.Server{
		Addr:              a.Settings.ListenAddr,
		Handler:           a.API().Router(a.Settings.APIToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("admin API starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown admin API: %w", err)
	}
	return nil
}

// Close drops pending transfers, disposes the connection manager and closes
// the database and log file.
func (a *App) Close() error {
	if n := a.Queue.ClearPending("shutting down"); n > 0 {
		a.Logger.Info("pending transfers dropped", zap.Int("count", n))
	}
	a.Manager.Dispose()
	err := database.Close(a.DB)
	a.closeLog()
	return err
}

func (a *App) closeLog() {
	if a.logCloser != nil {
		a.logCloser.Close()
		a.logCloser = nil
	}
}
