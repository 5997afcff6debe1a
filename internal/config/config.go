package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddr  = "127.0.0.1:8080"
	DefaultLocale      = "en-US"
	DefaultOrderField  = "order"
	DefaultContentful  = "https://api.contentful.com"
	DefaultEnvironment = "master"
	DefaultMaxRetries  = 3
)

type Config struct {
	Store struct {
		Backend    string `yaml:"backend"`
		Contentful struct {
			BaseURL     string `yaml:"base_url"`
			SpaceID     string `yaml:"space_id"`
			Environment string `yaml:"environment"`
			Token       string `yaml:"token"`
		} `yaml:"contentful"`
		Memory struct {
			Fixture string `yaml:"fixture"`
		} `yaml:"memory"`
		Locale         string `yaml:"locale"`
		OrderField     string `yaml:"order_field"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		RateLimit      struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		Retry struct {
			// nil means DefaultMaxRetries; 0 disables retries.
			MaxRetries     *int `yaml:"max_retries"`
			InitialDelayMS int  `yaml:"initial_delay_ms"`
			MaxDelayMS     int  `yaml:"max_delay_ms"`
		} `yaml:"retry"`
	} `yaml:"store"`
	Server struct {
		Addr string `yaml:"addr"`
		TLS  struct {
			Cert        string `yaml:"cert"`
			Key         string `yaml:"key"`
			ClientCA    string `yaml:"client_ca"`
			RequireMTLS bool   `yaml:"require_mtls"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Admin struct {
		Username          string `yaml:"username"`
		PasswordHash      string `yaml:"password_hash"`
		APIToken          string `yaml:"api_token"`
		SessionSecret     string `yaml:"session_secret"`
		SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
		SecureCookies     bool   `yaml:"secure_cookies"`
	} `yaml:"admin"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`
}

// Dir returns $XDG_CONFIG_HOME/cmsadmin or ~/.config/cmsadmin.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "cmsadmin")
}

// Load reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/cmsadmin/config.yaml or ~/.config/cmsadmin/config.yaml.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		path = filepath.Join(Dir(), "config.yaml")
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// Tokens live in secrets.env next to the config; the environment wins.
	secrets, err := readSecrets(filepath.Join(filepath.Dir(path), "secrets.env"))
	if err != nil {
		return cfg, err
	}
	for _, key := range secretKeys {
		if v := os.Getenv(key); v != "" {
			secrets[key] = v
		}
	}
	cfg.applySecrets(secrets)
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

const (
	EnvCMAToken      = "CMSADMIN_CMA_TOKEN"
	EnvAPIToken      = "CMSADMIN_API_TOKEN"
	EnvSessionSecret = "CMSADMIN_SESSION_SECRET"
	EnvPasswordHash  = "CMSADMIN_PASSWORD_HASH"
)

var secretKeys = []string{EnvCMAToken, EnvAPIToken, EnvSessionSecret, EnvPasswordHash}

// readSecrets parses KEY=VALUE lines. Blank lines, # comments and an
// optional "export " prefix are allowed; values may be quoted. Only the
// CMSADMIN_* secret keys are kept. A missing file yields no secrets.
func readSecrets(path string) (map[string]string, error) {
	out := map[string]string{}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open secrets: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			return nil, fmt.Errorf("secrets %s:%d: expected KEY=VALUE", path, n)
		}
		key = strings.TrimSpace(key)
		for _, known := range secretKeys {
			if key == known {
				out[key] = strings.Trim(strings.TrimSpace(val), `"'`)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	return out, nil
}

func (c *Config) applySecrets(secrets map[string]string) {
	if t := secrets[EnvCMAToken]; t != "" {
		c.Store.Contentful.Token = t
	}
	if t := secrets[EnvAPIToken]; t != "" {
		c.Admin.APIToken = t
	}
	if t := secrets[EnvSessionSecret]; t != "" {
		c.Admin.SessionSecret = t
	}
	if t := secrets[EnvPasswordHash]; t != "" {
		c.Admin.PasswordHash = t
	}
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "contentful"
	}
	if c.Store.Contentful.BaseURL == "" {
		c.Store.Contentful.BaseURL = DefaultContentful
	}
	if c.Store.Contentful.Environment == "" {
		c.Store.Contentful.Environment = DefaultEnvironment
	}
	if c.Store.Locale == "" {
		c.Store.Locale = DefaultLocale
	}
	if c.Store.OrderField == "" {
		c.Store.OrderField = DefaultOrderField
	}
	if c.Store.TimeoutSeconds == 0 {
		c.Store.TimeoutSeconds = 30
	}
	// Contentful's management API allows 10 req/s per token.
	if c.Store.RateLimit.RequestsPerSecond == 0 {
		c.Store.RateLimit.RequestsPerSecond = 8
	}
	if c.Store.RateLimit.Burst == 0 {
		c.Store.RateLimit.Burst = 1
	}
	if c.Store.Retry.InitialDelayMS == 0 {
		c.Store.Retry.InitialDelayMS = 500
	}
	if c.Store.Retry.MaxDelayMS == 0 {
		c.Store.Retry.MaxDelayMS = 10000
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Admin.Username == "" {
		c.Admin.Username = "admin"
	}
	if c.Admin.SessionTTLMinutes == 0 {
		c.Admin.SessionTTLMinutes = 8 * 60
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(Dir(), "journal.db")
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "contentful":
		if c.Store.Contentful.SpaceID == "" {
			return fmt.Errorf("store.contentful.space_id is required")
		}
		if c.Store.Contentful.Token == "" {
			return fmt.Errorf("contentful token missing; set store.contentful.token or %s", EnvCMAToken)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("store.rate_limit.requests_per_second must not be negative")
	}
	if c.RetryLimit() < 0 {
		return fmt.Errorf("store.retry.max_retries must not be negative")
	}
	return nil
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// RetryLimit is how many times a failed store call is retried.
func (c Config) RetryLimit() int {
	if c.Store.Retry.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.Store.Retry.MaxRetries
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Admin.SessionTTLMinutes) * time.Minute
}

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}
