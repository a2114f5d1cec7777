package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("invalid config")

const (
	EnvDB       = "CLAWMONITOR_DB"
	EnvOpenclaw = "OPENCLAW_BIN"

	DefaultFile     = ".clawtop.yaml"
	DefaultInterval = 1.0
	DefaultKeepDays = 90
	DefaultProfile  = "openclaw"
	DefaultListen   = "127.0.0.1:8787"
)

// Config holds the CLI configuration
type Config struct {
	DBPath          string  `yaml:"db_path,omitempty"`
	IntervalSeconds float64 `yaml:"interval,omitempty"`
	KeepDays        int     `yaml:"keep_days,omitempty"`
	Profile         string  `yaml:"profile,omitempty"`
	OpenclawBin     string  `yaml:"openclaw_bin,omitempty"`
	ListenAddr      string  `yaml:"listen_addr,omitempty"`
	Server          string  `yaml:"server,omitempty"`
	LogLevel        string  `yaml:"log_level,omitempty"`
	LogJSON         bool    `yaml:"log_json,omitempty"`
}

// Default returns a config with every field at its default
func Default() *Config {
	return &Config{
		DBPath:          DefaultDBPath(),
		IntervalSeconds: DefaultInterval,
		KeepDays:        DefaultKeepDays,
		Profile:         DefaultProfile,
		ListenAddr:      DefaultListen,
		LogLevel:        "info",
	}
}

// DefaultDBPath is ~/.clawtop/usage.db
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".clawtop", "usage.db")
}

// Path returns the path to the config file
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultFile), nil
}

// Load loads the configuration from path, or the default location if path
// is empty. A missing file yields defaults. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the file over the defaults without environment overrides
func LoadFile(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDB); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvOpenclaw); v != "" {
		c.OpenclawBin = v
	}
}

// Validate rejects values the sampler cannot run with
func (c *Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidConfig, strconv.FormatFloat(c.IntervalSeconds, 'f', -1, 64))
	}
	if c.KeepDays <= 0 {
		return fmt.Errorf("%w: keep_days must be positive, got %d", ErrInvalidConfig, c.KeepDays)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is empty", ErrInvalidConfig)
	}
	return nil
}

// Interval returns the sampling period
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// Retention returns how long samples are kept
func (c *Config) Retention() time.Duration {
	return time.Duration(c.KeepDays) * 24 * time.Hour
}

// ResolveOpenclawBin finds the openclaw executable: explicit setting,
// then PATH, then the usual install locations.
func (c *Config) ResolveOpenclawBin() string {
	if c.OpenclawBin != "" {
		return c.OpenclawBin
	}
	if p, err := exec.LookPath("openclaw"); err == nil {
		return p
	}
	for _, p := range []string{"/usr/local/bin/openclaw", "/opt/homebrew/bin/openclaw"} {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return "openclaw"
}

// Save saves the configuration to path, or the default location if empty
func Save(path string, cfg *Config) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
