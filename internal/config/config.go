package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level perch configuration, loaded from
// ~/.perch/config.yaml. Every field has a usable default so a missing file
// is not an error.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string `yaml:"addr"`
	// DataDir overrides the base data directory (default ~/.perch).
	DataDir string `yaml:"data_dir"`
	// RegistryURL is the remote ACP agent registry document.
	RegistryURL string `yaml:"registry_url"`
	// SkillsDir is scanned for skill manifests.
	SkillsDir string `yaml:"skills_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, mirrors log output to a file.
	LogFile string `yaml:"log_file"`
}

const DefaultRegistryURL = "https://cdn.agentclientprotocol.com/registry/v1/latest/registry.json"

// Load reads config.yaml from the user config dir, applying defaults for
// any unset field. A missing file yields the default config.
func Load() (*Config, error) {
	dir, err := UserDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, "config.yaml"))
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = envOr("PERCH_ADDR", "127.0.0.1:7420")
	}
	if c.DataDir == "" {
		if v := os.Getenv("PERCH_DATA_DIR"); v != "" {
			c.DataDir = v
		} else if dir, err := UserDir(); err == nil {
			c.DataDir = dir
		} else {
			c.DataDir = "."
		}
	}
	if c.RegistryURL == "" {
		c.RegistryURL = envOr("PERCH_REGISTRY_URL", DefaultRegistryURL)
	}
	if c.SkillsDir == "" {
		c.SkillsDir = filepath.Join(c.DataDir, "skills")
	}
	if c.LogLevel == "" {
		c.LogLevel = envOr("PERCH_LOG_LEVEL", "info")
	}
}

// AgentsDir is the base directory for installed ACP agents.
func (c *Config) AgentsDir() string {
	return filepath.Join(c.DataDir, "acp-agents")
}

// DBPath is the sqlite database holding workspaces, agents, tasks and notes.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "perch.db")
}

// UserDir returns ~/.perch.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".perch"), nil
}

// EnsureDirs creates the data, agents and skills directories.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.AgentsDir(), c.SkillsDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
