// Package config loads dashboard settings.
//
// Precedence, lowest first: defaults, the YAML file
// (~/.config/proxy-dashboard/config.yaml), PROXY_DASHBOARD_* environment
// variables, then command line flags applied by the caller.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AppName = "proxy-dashboard"

	DefaultServerURL    = "http://127.0.0.1:5000"
	DefaultPollInterval = time.Second
	DefaultRetryMax     = 2
	DefaultLogLevel     = "info"
	DefaultNamespace    = "proxy-dashboard/proxies"

	EnvServer   = "PROXY_DASHBOARD_SERVER"
	EnvStateDir = "PROXY_DASHBOARD_STATE_DIR"
	EnvLogLevel = "PROXY_DASHBOARD_LOG_LEVEL"

	logFileName = "dashboard.log"
	maxRetries  = 10
)

type Config struct {
	ServerURL    string        `yaml:"server_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryMax     int           `yaml:"retry_max"`
	StateDir     string        `yaml:"state_dir"`
	Namespace    string        `yaml:"namespace"`
	LogLevel     string        `yaml:"log_level"`
	LogFile      string        `yaml:"log_file"`
}

func Default() Config {
	return Normalize(seed())
}

// seed holds defaults that a zero value cannot express, since retry_max: 0
// is a valid setting.
func seed() Config {
	return Config{RetryMax: DefaultRetryMax}
}

// Normalize fills unset fields and resets invalid ones to their defaults.
func Normalize(raw Config) Config {
	norm := raw
	norm.ServerURL = strings.TrimRight(strings.TrimSpace(norm.ServerURL), "/")
	if !ValidServerURL(norm.ServerURL) {
		norm.ServerURL = DefaultServerURL
	}
	if norm.PollInterval <= 0 {
		norm.PollInterval = DefaultPollInterval
	}
	if norm.RetryMax < 0 || norm.RetryMax > maxRetries {
		norm.RetryMax = DefaultRetryMax
	}
	norm.StateDir = expandHome(strings.TrimSpace(norm.StateDir))
	if norm.StateDir == "" {
		norm.StateDir = StateDir()
	}
	norm.Namespace = strings.TrimSpace(norm.Namespace)
	if norm.Namespace == "" {
		norm.Namespace = DefaultNamespace
	}
	norm.LogLevel = normalizeLevel(norm.LogLevel)
	norm.LogFile = expandHome(strings.TrimSpace(norm.LogFile))
	if norm.LogFile == "" {
		norm.LogFile = filepath.Join(norm.StateDir, logFileName)
	}
	return norm
}

func normalizeLevel(raw string) string {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "trace", "debug", "info", "warn", "error", "disabled":
		return v
	case "warning":
		return "warn"
	default:
		return DefaultLogLevel
	}
}

// ValidServerURL reports whether raw is an absolute http or https URL.
func ValidServerURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CheckServerURL rejects a server URL the operator typed by hand. source names
// the flag or variable it came from. Only the file value falls back to the
// default silently.
func CheckServerURL(source, raw string) error {
	if ValidServerURL(strings.TrimRight(strings.TrimSpace(raw), "/")) {
		return nil
	}
	return fmt.Errorf("%s must be an http:// or https:// URL, got %q", source, raw)
}

// Load reads path, or the default location when path is empty, and applies
// environment overrides. A missing file yields defaults; a malformed
// PROXY_DASHBOARD_SERVER is an error.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if v := strings.TrimSpace(os.Getenv(EnvServer)); v != "" {
		if err := CheckServerURL(EnvServer, v); err != nil {
			return Default(), err
		}
	}
	return Normalize(ApplyEnv(cfg, os.Getenv)), nil
}

// LoadFile reads the YAML file without environment overrides.
func LoadFile(path string) (Config, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = Path()
	}
	cfg := seed()
	if p == "" {
		return Normalize(cfg), nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Normalize(cfg), nil
		}
		return Default(), fmt.Errorf("reading config %s: %w", p, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config %s: %w", p, err)
	}
	return cfg, nil
}

// ApplyEnv overlays PROXY_DASHBOARD_* variables. getenv is os.Getenv outside
// tests.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if v := strings.TrimSpace(getenv(EnvServer)); v != "" {
		cfg.ServerURL = v
	}
	if v := strings.TrimSpace(getenv(EnvStateDir)); v != "" {
		cfg.StateDir = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// Save writes cfg as YAML, creating the parent directory.
func Save(cfg Config, path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		p = Path()
	}
	if p == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(fileShape(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// fileShape writes the interval as "1s" rather than nanoseconds.
func fileShape(cfg Config) map[string]any {
	return map[string]any{
		"server_url":    cfg.ServerURL,
		"poll_interval": cfg.PollInterval.String(),
		"retry_max":     cfg.RetryMax,
		"state_dir":     cfg.StateDir,
		"namespace":     cfg.Namespace,
		"log_level":     cfg.LogLevel,
		"log_file":      cfg.LogFile,
	}
}

func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", AppName)
}

func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppName)
	}
	return filepath.Join(home, ".local", "state", AppName)
}

func Path() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
