// Package config handles mcprelay configuration loading: the runtime
// settings plus the named MCP server map the manager supervises.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/brindle/mcprelay/internal/mcp"
)

// Config holds all mcprelay configuration.
type Config struct {
	LogLevel string                      `yaml:"log_level"`
	Servers  map[string]mcp.ServerConfig `yaml:"servers"`
}

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./mcprelay.yaml, ~/.config/mcprelay/config.yaml, /etc/mcprelay/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"mcprelay.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcprelay", "config.yaml"))
	}

	paths = append(paths, "/etc/mcprelay/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded at load time; transports additionally apply the richer
// ${VAR} substitution patterns to env and header values at connect time.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadServersDir scans a directory for *.yaml / *.yml files, each holding a
// server map, and merges them in lexical filename order (later files
// override same-named servers). A missing directory yields an empty map.
func LoadServersDir(dir string) (map[string]mcp.ServerConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	sources := make([]map[string]mcp.ServerConfig, 0, len(files))
	for _, path := range files {
		cfg, err := Load(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, cfg.Servers)
	}

	return mcp.MergeServerConfigs(sources...), nil
}
