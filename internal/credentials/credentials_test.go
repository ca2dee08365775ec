package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/secrets"
)

var srv = remote.Server{Name: "prod", Host: "files.example.com", Port: 22, Username: "deploy", Password: "plain-pw"}

func TestResolve_AutoMigratesOnce(t *testing.T) {
	storage := secrets.NewMemoryStorage()
	s := NewStore(storage, nil)
	ctx := context.Background()

	res, err := s.Resolve(ctx, srv, "ws", ResolveOptions{AutoMigrate: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Server.Password != "plain-pw" {
		t.Errorf("Password = %q", res.Server.Password)
	}
	if len(res.Migrated) != 1 || res.Migrated[0] != secrets.FieldPassword {
		t.Errorf("Migrated = %v, want [password]", res.Migrated)
	}
	if storage.StoreCount() != 1 {
		t.Fatalf("StoreCount = %d, want 1", storage.StoreCount())
	}

	// secret storage now wins over a changed plaintext value
	changed := srv
	changed.Password = "stale"
	res, err = s.Resolve(ctx, changed, "ws", ResolveOptions{AutoMigrate: true})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if res.Server.Password != "plain-pw" {
		t.Errorf("Password = %q, want stored value", res.Server.Password)
	}
	if len(res.Migrated) != 0 {
		t.Errorf("second Resolve migrated %v", res.Migrated)
	}
	if storage.StoreCount() != 1 {
		t.Errorf("StoreCount = %d after second resolve", storage.StoreCount())
	}
}

func TestResolve_NoAutoMigrateUsesPlaintext(t *testing.T) {
	storage := secrets.NewMemoryStorage()
	s := NewStore(storage, nil)

	res, err := s.Resolve(context.Background(), srv, "ws", ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Server.Password != "plain-pw" || len(res.Migrated) != 0 || storage.StoreCount() != 0 {
		t.Errorf("res = %+v, stores = %d", res, storage.StoreCount())
	}
}

func TestResolve_WorkspacesAreIsolated(t *testing.T) {
	storage := secrets.NewMemoryStorage()
	s := NewStore(storage, nil)
	ctx := context.Background()

	if _, err := s.Resolve(ctx, srv, "a", ResolveOptions{AutoMigrate: true}); err != nil {
		t.Fatal(err)
	}
	noPlain := srv
	noPlain.Password = ""
	res, err := s.Resolve(ctx, noPlain, "b", ResolveOptions{AutoMigrate: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Server.Password != "" {
		t.Errorf("workspace b resolved %q from workspace a", res.Server.Password)
	}
}

func TestResolve_NotifierFiresOnce(t *testing.T) {
	s := NewStore(secrets.NewMemoryStorage(), nil)
	calls := 0
	s.OnFirstMigration(func(remote.Server, []secrets.Field) { calls++ })

	other := srv
	other.Host = "other.example.com"
	other.Passphrase = "pp"
	for _, c := range []remote.Server{srv, other} {
		if _, err := s.Resolve(context.Background(), c, "ws", ResolveOptions{AutoMigrate: true}); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("notifier called %d times, want 1", calls)
	}
}

func TestResolve_NotifierRegisteredConcurrently(t *testing.T) {
	s := NewStore(secrets.NewMemoryStorage(), nil)
	var calls atomic.Int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.OnFirstMigration(func(remote.Server, []secrets.Field) { calls.Add(1) })
	}()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := srv
			c.Host = fmt.Sprintf("host%d.example.com", i)
			if _, err := s.Resolve(context.Background(), c, "ws", ResolveOptions{AutoMigrate: true}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if n := calls.Load(); n > 1 {
		t.Errorf("notifier called %d times, want at most 1", n)
	}
}

type failingStorage struct{ *secrets.MemoryStorage }

var errBackend = errors.New("keychain locked")

func (failingStorage) Get(context.Context, secrets.SecretKey) (string, bool, error) {
	return "", false, errBackend
}

func TestResolve_PropagatesProviderError(t *testing.T) {
	s := NewStore(failingStorage{secrets.NewMemoryStorage()}, nil)
	_, err := s.Resolve(context.Background(), srv, "ws", ResolveOptions{AutoMigrate: true})
	if !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
}

func TestMigrateFromPlaintext_IdempotentUnlessOverwrite(t *testing.T) {
	storage := secrets.NewMemoryStorage()
	s := NewStore(storage, nil)
	ctx := context.Background()
	withBoth := srv
	withBoth.Passphrase = "pp"

	n, err := s.MigrateFromPlaintext(ctx, withBoth, "ws", MigrateOptions{})
	if err != nil || n != 2 {
		t.Fatalf("first migrate = %d, %v", n, err)
	}
	n, err = s.MigrateFromPlaintext(ctx, withBoth, "ws", MigrateOptions{})
	if err != nil || n != 0 {
		t.Fatalf("second migrate = %d, %v; want 0", n, err)
	}
	n, err = s.MigrateFromPlaintext(ctx, withBoth, "ws", MigrateOptions{Overwrite: true})
	if err != nil || n != 2 {
		t.Fatalf("overwrite migrate = %d, %v; want 2", n, err)
	}
}

func TestMigrateAll(t *testing.T) {
	s := NewStore(secrets.NewMemoryStorage(), nil)
	b := srv
	b.Host = "b.example.com"
	empty := remote.Server{Host: "c", Username: "x"}

	n, err := s.MigrateAll(context.Background(), []remote.Server{srv, b, empty}, "ws", MigrateOptions{})
	if err != nil || n != 2 {
		t.Fatalf("MigrateAll = %d, %v; want 2", n, err)
	}
}

func TestForget(t *testing.T) {
	storage := secrets.NewMemoryStorage()
	s := NewStore(storage, nil)
	ctx := context.Background()
	if _, err := s.MigrateFromPlaintext(ctx, srv, "ws", MigrateOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, srv, "ws"); err != nil {
		t.Fatal(err)
	}
	noPlain := srv
	noPlain.Password = ""
	res, _ := s.Resolve(ctx, noPlain, "ws", ResolveOptions{})
	if res.Server.Password != "" {
		t.Error("password still resolvable after Forget")
	}
}
