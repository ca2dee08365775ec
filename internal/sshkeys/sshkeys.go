package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
)

// ErrKeyExists is returned by WriteKeyPair when either file already exists.
var ErrKeyExists = errors.New("key file already exists")

// KeyPair is a generated key pair in its on-disk encodings.
type KeyPair struct {
	// PrivateKeyPEM is an OpenSSH "OPENSSH PRIVATE KEY" block.
	PrivateKeyPEM []byte
	// AuthorizedKey is the public key in authorized_keys format.
	AuthorizedKey []byte
	// Fingerprint is the SHA256 fingerprint of the public key.
	Fingerprint string
}

// GenerateKeyPair creates an ED25519 key pair. A non-empty passphrase
// encrypts the private key.
func GenerateKeyPair(comment, passphrase string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, comment, []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, comment)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("create ssh public key: %w", err)
	}
	return &KeyPair{
		PrivateKeyPEM: pem.EncodeToMemory(block),
		AuthorizedKey: ssh.MarshalAuthorizedKey(sshPub),
		Fingerprint:   hosttrust.Fingerprint(sshPub),
	}, nil
}

// PublicKeyPath returns where WriteKeyPair puts the public half of the key
// at privatePath.
func PublicKeyPath(privatePath string) string {
	return privatePath + ".pub"
}

// WriteKeyPair writes kp to privatePath and PublicKeyPath(privatePath). The
// directory is created with 0700 permissions when missing.
func WriteKeyPair(privatePath string, kp *KeyPair) error {
	pubPath := PublicKeyPath(privatePath)
	for _, p := range []string{privatePath, pubPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%s: %w", p, ErrKeyExists)
		}
	}

	if err := os.MkdirAll(filepath.Dir(privatePath), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := writeExclusive(privatePath, kp.PrivateKeyPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := writeExclusive(pubPath, kp.AuthorizedKey, 0644); err != nil {
		os.Remove(privatePath)
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func writeExclusive(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrKeyExists)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
