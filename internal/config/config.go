package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	WorkspaceID   string `envconfig:"WORKSPACE_ID" default:"default"`
	WorkspaceRoot string `envconfig:"WORKSPACE_ROOT" default:"."`
	ServersFile   string `envconfig:"SERVERS_FILE" default:"servers.yaml"`
	ListenAddr    string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8086"`
	// APIToken protects the admin API with a bearer token; empty disables auth.
	APIToken string `envconfig:"API_TOKEN" default:""`

	// Transfer tuning
	MaxConcurrent       int `envconfig:"MAX_CONCURRENT" default:"4"`
	RetryTimes          int `envconfig:"RETRY_TIMES" default:"2"`
	ConnectionTimeoutMs int `envconfig:"CONNECTION_TIMEOUT_MS" default:"20000"`

	// Security policy
	HostKeyPolicy          string   `envconfig:"HOST_KEY_POLICY" default:"tofu"`
	AutoMigrateCredentials bool     `envconfig:"AUTO_MIGRATE_CREDENTIALS" default:"true"`
	TrustStorePath         string   `envconfig:"TRUST_STORE_PATH" default:""`
	CriticalPaths          []string `envconfig:"CRITICAL_PATHS" default:"/,/etc,/usr,/var,/bin,/sbin,/boot,/root,/home"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"30"`
}

// TransferTuning is the transfer-tuning provider's view of the settings.
type TransferTuning struct {
	MaxConcurrent     int
	RetryTimes        int
	ConnectionTimeout time.Duration
}

// SecurityPolicy is the security-policy provider's view of the settings.
type SecurityPolicy struct {
	HostKeyPolicy          string
	AutoMigrateCredentials bool
	TrustStorePath         string
}

// Load reads settings from SFTPSYNC_* environment variables.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("SFTPSYNC", &s); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s.normalize()
	return &s, nil
}

func (s *Settings) normalize() {
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "sftpsync.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "sftpsync.log")
	}
	if s.TrustStorePath == "" {
		s.TrustStorePath = filepath.Join(s.DataPath, "known_hosts.json")
	}
	cleaned := s.CriticalPaths[:0]
	for _, p := range s.CriticalPaths {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	s.CriticalPaths = cleaned
}

func (s *Settings) TransferTuning() TransferTuning {
	return TransferTuning{
		MaxConcurrent:     s.MaxConcurrent,
		RetryTimes:        s.RetryTimes,
		ConnectionTimeout: time.Duration(s.ConnectionTimeoutMs) * time.Millisecond,
	}
}

func (s *Settings) SecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		HostKeyPolicy:          s.HostKeyPolicy,
		AutoMigrateCredentials: s.AutoMigrateCredentials,
		TrustStorePath:         s.TrustStorePath,
	}
}

// TrustStoreLocation returns the trust database path in effect.
func (s *Settings) TrustStoreLocation() string {
	if s.TrustStorePath != "" {
		return s.TrustStorePath
	}
	return filepath.Join(s.DataPath, "known_hosts.json")
}
