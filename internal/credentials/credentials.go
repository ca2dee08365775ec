// Package credentials resolves server passwords and key passphrases,
// preferring secret storage over plaintext configuration and moving
// plaintext values into secret storage on demand.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/sftpsync/internal/logutil"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/secrets"
)

// ResolveOptions controls Resolve.
type ResolveOptions struct {
	// AutoMigrate stores plaintext values into secret storage when secret
	// storage has none.
	AutoMigrate bool
}

// MigrateOptions controls MigrateFromPlaintext and MigrateAll.
type MigrateOptions struct {
	// Overwrite replaces values already present in secret storage.
	Overwrite bool
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Server   remote.Server
	Migrated []secrets.Field
}

// MigrationNotifier is called the first time any field is migrated during
// the lifetime of a Store.
type MigrationNotifier func(srv remote.Server, fields []secrets.Field)

// Store resolves credentials against a secret-storage provider.
type Store struct {
	storage secrets.Storage
	log     *zap.Logger

	notifyOnce sync.Once
	notifyMu   sync.Mutex
	notify     MigrationNotifier
}

func NewStore(storage secrets.Storage, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{storage: storage, log: logger.With(zap.String("component", "credentials"))}
}

// OnFirstMigration registers the notifier fired on the first migration.
func (s *Store) OnFirstMigration(fn MigrationNotifier) {
	s.notifyMu.Lock()
	s.notify = fn
	s.notifyMu.Unlock()
}

func secretKey(srv remote.Server, workspace string, f secrets.Field) secrets.SecretKey {
	return secrets.SecretKey{
		Workspace: workspace,
		Host:      srv.Host,
		Port:      srv.EffectivePort(),
		Username:  srv.Username,
		Field:     f,
	}
}

func plaintext(srv remote.Server, f secrets.Field) string {
	switch f {
	case secrets.FieldPassword:
		return srv.Password
	case secrets.FieldPassphrase:
		return srv.Passphrase
	}
	return ""
}

func setField(srv *remote.Server, f secrets.Field, v string) {
	switch f {
	case secrets.FieldPassword:
		srv.Password = v
	case secrets.FieldPassphrase:
		srv.Passphrase = v
	}
}

// Resolve returns a copy of srv with every credential field filled from
// secret storage when a stored value exists, otherwise from plaintext.
func (s *Store) Resolve(ctx context.Context, srv remote.Server, workspace string, opts ResolveOptions) (Resolution, error) {
	resolved := srv
	var migrated []secrets.Field

	for _, f := range secrets.Fields {
		key := secretKey(srv, workspace, f)
		stored, ok, err := s.storage.Get(ctx, key)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve %s for %s: %w", f, srv.Label(), err)
		}
		if ok {
			setField(&resolved, f, stored)
			continue
		}

		plain := plaintext(srv, f)
		if plain == "" || !opts.AutoMigrate {
			continue
		}
		if err := s.storage.Store(ctx, key, plain); err != nil {
			return Resolution{}, fmt.Errorf("migrate %s for %s: %w", f, srv.Label(), err)
		}
		migrated = append(migrated, f)
		s.log.Info("migrated plaintext credential to secret storage",
			zap.String("server", logutil.SanitizeForLog(srv.Label())),
			zap.String("field", string(f)))
	}

	if len(migrated) > 0 {
		s.fireNotify(srv, migrated)
	}
	return Resolution{Server: resolved, Migrated: migrated}, nil
}

func (s *Store) fireNotify(srv remote.Server, fields []secrets.Field) {
	s.notifyOnce.Do(func() {
		s.notifyMu.Lock()
		fn := s.notify
		s.notifyMu.Unlock()
		if fn != nil {
			fn(srv, fields)
		}
	})
}

// MigrateFromPlaintext copies srv's plaintext credentials into secret
// storage and returns the number of fields written. Existing stored values
// are kept unless opts.Overwrite is set.
func (s *Store) MigrateFromPlaintext(ctx context.Context, srv remote.Server, workspace string, opts MigrateOptions) (int, error) {
	written := 0
	var fields []secrets.Field
	for _, f := range secrets.Fields {
		plain := plaintext(srv, f)
		if plain == "" {
			continue
		}
		key := secretKey(srv, workspace, f)
		if !opts.Overwrite {
			_, ok, err := s.storage.Get(ctx, key)
			if err != nil {
				return written, fmt.Errorf("check %s for %s: %w", f, srv.Label(), err)
			}
			if ok {
				continue
			}
		}
		if err := s.storage.Store(ctx, key, plain); err != nil {
			return written, fmt.Errorf("migrate %s for %s: %w", f, srv.Label(), err)
		}
		written++
		fields = append(fields, f)
	}
	if written > 0 {
		s.log.Info("credentials migrated",
			zap.String("server", logutil.SanitizeForLog(srv.Label())), zap.Int("fields", written))
		s.fireNotify(srv, fields)
	}
	return written, nil
}

// MigrateAll runs MigrateFromPlaintext for every server. A failure for one
// server does not stop the others; all failures are joined into the
// returned error.
func (s *Store) MigrateAll(ctx context.Context, servers []remote.Server, workspace string, opts MigrateOptions) (int, error) {
	total := 0
	var errs []error
	for _, srv := range servers {
		n, err := s.MigrateFromPlaintext(ctx, srv, workspace, opts)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Forget removes every stored credential for srv.
func (s *Store) Forget(ctx context.Context, srv remote.Server, workspace string) error {
	for _, f := range secrets.Fields {
		if err := s.storage.Delete(ctx, secretKey(srv, workspace, f)); err != nil {
			return err
		}
	}
	return nil
}
