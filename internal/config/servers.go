package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gluk-w/claworc/sftpsync/internal/remote"
)

type serversFile struct {
	Servers []remote.Server `yaml:"servers"`
}

// LoadServers reads the YAML server list at path. Ports default to 22 and
// names must be unique; a server without a name is named after its key.
func LoadServers(path string) ([]remote.Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read servers file: %w", err)
	}
	return ParseServers(data)
}

func ParseServers(data []byte) ([]remote.Server, error) {
	var f serversFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse servers file: %w", err)
	}

	seen := make(map[string]bool, len(f.Servers))
	for i := range f.Servers {
		s := &f.Servers[i]
		s.Host = strings.TrimSpace(s.Host)
		if s.Host == "" {
			return nil, fmt.Errorf("server #%d: host is required", i+1)
		}
		if s.Username == "" {
			return nil, fmt.Errorf("server %q: username is required", s.Host)
		}
		if s.Port <= 0 {
			s.Port = remote.DefaultPort
		}
		if s.RemoteBasePath == "" {
			s.RemoteBasePath = "/"
		}
		if s.Name == "" {
			s.Name = string(s.Key())
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return f.Servers, nil
}

// FindServer returns the server named name.
func FindServer(servers []remote.Server, name string) (remote.Server, error) {
	for _, s := range servers {
		if s.Name == name {
			return s, nil
		}
	}
	return remote.Server{}, fmt.Errorf("no server named %q", name)
}
