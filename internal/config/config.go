// Package config loads process configuration from an optional YAML file and
// MULTIBANK_* environment overrides, and validates it before any remote call
// is made.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvStoreURL        = "MULTIBANK_STORE_URL"
	EnvStoreKey        = "MULTIBANK_STORE_KEY"
	EnvAuthURL         = "MULTIBANK_AUTH_URL"
	EnvAuthKey         = "MULTIBANK_AUTH_KEY"
	EnvAuthJWTSecret   = "MULTIBANK_AUTH_JWT_SECRET"
	EnvAuthInsecureDev = "MULTIBANK_AUTH_INSECURE_DEV"
	EnvAMQPURL         = "MULTIBANK_AMQP_URL"
	EnvExportBucket    = "MULTIBANK_EXPORT_BUCKET"
	EnvLogLevel        = "MULTIBANK_LOG_LEVEL"
	EnvPort            = "MULTIBANK_PORT"
)

// Store schemes.
const (
	SchemePostgres   = "postgres"
	SchemePostgreSQL = "postgresql"
	SchemeBigQuery   = "bigquery"
	SchemeMemory     = "memory"
)

type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Export   ExportConfig   `yaml:"export"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Identity IdentityConfig `yaml:"identity"`
	LogLevel string         `yaml:"log_level"`
	Port     string         `yaml:"port"`
}

// StoreConfig locates the remote store. Key is the access credential: the
// database password for postgres, a service account file for bigquery.
type StoreConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// AuthConfig locates the auth service. JWTSecret verifies access tokens for
// the session fallback. InsecureDev lets the API server take bearer tokens as
// auth user IDs when no auth service is configured.
type AuthConfig struct {
	URL         string        `yaml:"url"`
	Key         string        `yaml:"key"`
	JWTSecret   string        `yaml:"jwt_secret"`
	Retries     int           `yaml:"retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	InsecureDev bool          `yaml:"insecure_dev"`
}

type EventsConfig struct {
	AMQPURL    string `yaml:"amqp_url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type ExportConfig struct {
	Bucket string `yaml:"bucket"`
}

type LedgerConfig struct {
	LookbackDays int `yaml:"lookback_days"`
}

type IdentityConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Store: StoreConfig{URL: "memory://"},
		Auth: AuthConfig{
			Retries:   2,
			BaseDelay: 200 * time.Millisecond,
		},
		Ledger:   LedgerConfig{LookbackDays: 30},
		Identity: IdentityConfig{MaxAttempts: 30},
		LogLevel: "info",
		Port:     "8080",
	}
}

// Load reads path (if not empty) over the defaults, then applies the
// environment. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("Load: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("Load: parsing %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the MULTIBANK_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvStoreURL, &c.Store.URL)
	set(EnvStoreKey, &c.Store.Key)
	set(EnvAuthURL, &c.Auth.URL)
	set(EnvAuthKey, &c.Auth.Key)
	set(EnvAuthJWTSecret, &c.Auth.JWTSecret)
	set(EnvAMQPURL, &c.Events.AMQPURL)
	set(EnvExportBucket, &c.Export.Bucket)
	set(EnvLogLevel, &c.LogLevel)

	if v, ok := lookup(EnvAuthInsecureDev); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", domain.ErrInvalidConfig, EnvAuthInsecureDev, v)
		}
		c.Auth.InsecureDev = b
	}

	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		if _, err := strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", domain.ErrInvalidConfig, EnvPort, v)
		}
		c.Port = strings.TrimSpace(v)
	}
	return nil
}

// Validate checks the store and auth endpoints and credentials. Any problem
// is fatal and wraps domain.ErrInvalidConfig.
func (c Config) Validate() error {
	u, err := url.Parse(c.Store.URL)
	if err != nil || c.Store.URL == "" {
		return fmt.Errorf("%w: store url %q is not a URL", domain.ErrInvalidConfig, c.Store.URL)
	}
	switch u.Scheme {
	case SchemePostgres, SchemePostgreSQL, SchemeBigQuery:
		if u.Host == "" {
			return fmt.Errorf("%w: store url %q has no host", domain.ErrInvalidConfig, c.Store.URL)
		}
		if strings.TrimSpace(c.Store.Key) == "" {
			return fmt.Errorf("%w: store credential is empty", domain.ErrInvalidConfig)
		}
	case SchemeMemory:
	default:
		return fmt.Errorf("%w: unsupported store scheme %q", domain.ErrInvalidConfig, u.Scheme)
	}

	if c.Auth.URL != "" {
		au, err := url.Parse(c.Auth.URL)
		if err != nil || (au.Scheme != "http" && au.Scheme != "https") || au.Host == "" {
			return fmt.Errorf("%w: auth url %q must be http(s)", domain.ErrInvalidConfig, c.Auth.URL)
		}
		if strings.TrimSpace(c.Auth.Key) == "" {
			return fmt.Errorf("%w: auth key is empty", domain.ErrInvalidConfig)
		}
	}

	if c.Events.AMQPURL != "" {
		eu, err := url.Parse(c.Events.AMQPURL)
		if err != nil || (eu.Scheme != "amqp" && eu.Scheme != "amqps") {
			return fmt.Errorf("%w: amqp url %q must be amqp(s)", domain.ErrInvalidConfig, c.Events.AMQPURL)
		}
	}

	if c.Auth.Retries < 0 {
		return fmt.Errorf("%w: negative auth retries", domain.ErrInvalidConfig)
	}
	if c.Ledger.LookbackDays <= 0 {
		return fmt.Errorf("%w: lookback_days must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// ValidateServer runs Validate and then requires an auth service for the API
// server. Without one, auth.insecure_dev must be set and the store must be
// memory://.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Auth.URL != "" {
		return nil
	}
	if !c.Auth.InsecureDev {
		return fmt.Errorf("%w: auth url is required (auth.insecure_dev allows bearer user IDs locally)", domain.ErrInvalidConfig)
	}
	if c.StoreScheme() != SchemeMemory {
		return fmt.Errorf("%w: auth.insecure_dev requires the memory store, got %q", domain.ErrInvalidConfig, c.StoreScheme())
	}
	return nil
}

// StoreScheme returns the scheme of the store URL.
func (c Config) StoreScheme() string {
	if i := strings.Index(c.Store.URL, "://"); i > 0 {
		return strings.ToLower(c.Store.URL[:i])
	}
	return ""
}

// Lookback returns the ledger lookback window.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.Ledger.LookbackDays) * 24 * time.Hour
}
