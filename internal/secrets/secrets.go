// Package secrets is the secure key-value store credentials are read from and
// migrated into. Values never leave the Storage implementation unencrypted
// except through Get.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gluk-w/claworc/sftpsync/internal/crypto"
	"github.com/gluk-w/claworc/sftpsync/internal/database"
)

// Field names a credential slot of a server record.
type Field string

const (
	FieldPassword   Field = "password"
	FieldPassphrase Field = "passphrase"
)

// Fields lists every credential slot in resolution order.
var Fields = []Field{FieldPassword, FieldPassphrase}

// SecretKey addresses one value in secret storage.
type SecretKey struct {
	Workspace string
	Host      string
	Port      int
	Username  string
	Field     Field
}

// String renders the storage key, e.g. "sftpsync:default:deploy@example.com:22:password".
func (k SecretKey) String() string {
	return strings.Join([]string{
		"sftpsync",
		k.Workspace,
		k.Username + "@" + strings.ToLower(k.Host),
		strconv.Itoa(k.Port),
		string(k.Field),
	}, ":")
}

// Storage is a secret-storage provider.
type Storage interface {
	// Get returns the value and true, or "" and false when no value exists.
	Get(ctx context.Context, key SecretKey) (string, bool, error)
	Store(ctx context.Context, key SecretKey, value string) error
	Delete(ctx context.Context, key SecretKey) error
}

// DBStorage keeps Fernet-encrypted secrets in the database.
type DBStorage struct {
	db     *gorm.DB
	cipher *crypto.Cipher
	log    *zap.Logger
}

func NewDBStorage(db *gorm.DB, cipher *crypto.Cipher, logger *zap.Logger) *DBStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBStorage{db: db, cipher: cipher, log: logger.With(zap.String("component", "secrets"))}
}

func (s *DBStorage) Get(ctx context.Context, key SecretKey) (string, bool, error) {
	var row database.Secret
	err := s.db.WithContext(ctx).Where("key = ?", key.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read secret %s: %w", key.Field, err)
	}
	plain, err := s.cipher.Decrypt(row.Value)
	if err != nil {
		return "", false, fmt.Errorf("decrypt secret %s: %w", key.Field, err)
	}
	return plain, true, nil
}

func (s *DBStorage) Store(ctx context.Context, key SecretKey, value string) error {
	enc, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret %s: %w", key.Field, err)
	}
	row := database.Secret{Key: key.String(), Value: enc, UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store secret %s: %w", key.Field, err)
	}
	s.log.Debug("secret stored", zap.String("field", string(key.Field)), zap.String("value", crypto.Mask(value)))
	return nil
}

func (s *DBStorage) Delete(ctx context.Context, key SecretKey) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key.String()).Delete(&database.Secret{}).Error; err != nil {
		return fmt.Errorf("delete secret %s: %w", key.Field, err)
	}
	return nil
}

// MemoryStorage keeps secrets in process memory. Nothing persists past the
// process, so it backs tests and throwaway tooling.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
	stores int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(_ context.Context, key SecretKey) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key.String()]
	return v, ok, nil
}

func (m *MemoryStorage) Store(_ context.Context, key SecretKey, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key.String()] = value
	m.stores++
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key SecretKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key.String())
	return nil
}

// StoreCount returns how many Store calls have succeeded.
func (m *MemoryStorage) StoreCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stores
}
