// Package remote defines the per-server configuration record shared by the
// connection pool, the credential resolver and the host trust store, and the
// connection key derived from it.
package remote

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when a server record leaves Port unset.
const DefaultPort = 22

// Server describes one remote SFTP endpoint. Password and Passphrase may be
// empty when the values live in secret storage.
type Server struct {
	Name           string `yaml:"name" json:"name"`
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	Username       string `yaml:"username" json:"username"`
	Password       string `yaml:"password,omitempty" json:"-"`
	PrivateKeyPath string `yaml:"privateKeyPath,omitempty" json:"private_key_path,omitempty"`
	Passphrase     string `yaml:"passphrase,omitempty" json:"-"`
	RemoteBasePath string `yaml:"remotePath" json:"remote_path"`
}

// EffectivePort returns Port, or DefaultPort when Port is not positive.
func (s Server) EffectivePort() int {
	if s.Port <= 0 {
		return DefaultPort
	}
	return s.Port
}

// Addr returns the dialable host:port address.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.EffectivePort()))
}

// Key returns the connection key for the server.
func (s Server) Key() Key {
	return KeyFor(s.Host, s.EffectivePort(), s.Username)
}

// Label returns a display name: Name when set, otherwise user@host:port.
func (s Server) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Key())
}

// Key identifies one pooled connection and one in-flight connect attempt.
// It is derived only from host, port and username; host names compare
// case-insensitively.
type Key string

// KeyFor builds the key for a (host, port, username) triple.
func KeyFor(host string, port int, username string) Key {
	if port <= 0 {
		port = DefaultPort
	}
	h := strings.ToLower(strings.TrimSpace(host))
	return Key(fmt.Sprintf("%s@%s", username, net.JoinHostPort(h, strconv.Itoa(port))))
}

// HostPort returns the "host:port" identity used by the trust store.
func HostPort(host string, port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.ToLower(strings.TrimSpace(host)), strconv.Itoa(port))
}
