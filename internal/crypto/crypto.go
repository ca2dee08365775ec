package crypto

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"gorm.io/gorm"

	"github.com/gluk-w/claworc/sftpsync/internal/database"
)

const fernetKeySetting = "fernet_key"

// Cipher encrypts and decrypts secret values with a Fernet key that is
// generated on first use and persisted in the settings table.
type Cipher struct {
	db *gorm.DB

	mu  sync.Mutex
	key *fernet.Key
}

func NewCipher(db *gorm.DB) *Cipher {
	return &Cipher{db: db}
}

func (c *Cipher) getKey() (*fernet.Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		return c.key, nil
	}

	keyStr, err := database.GetSetting(c.db, fernetKeySetting)
	if errors.Is(err, database.ErrNotFound) {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		if err := database.SetSetting(c.db, fernetKeySetting, k.Encode()); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		c.key = &k
		return c.key, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fernet key: %w", err)
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	c.key = key
	return c.key, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	key, err := c.getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	key, err := c.getKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of a secret.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
