package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/storage/memory"
	"github.com/giantswarm/oauth-codegrant/storage/sqlite"
	"github.com/giantswarm/oauth-codegrant/storage/valkey"
)

const envPrefix = "CODEGRANT_"

// Consent modes
const (
	consentPage  = "page"
	consentQuery = "query"
)

// Config is the demo configuration. Values come from the defaults, then
// the YAML file, then CODEGRANT_* environment variables.
type Config struct {
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	AuthAddr     string `yaml:"auth_addr" env:"AUTH_ADDR"`
	ResourceAddr string `yaml:"resource_addr" env:"RESOURCE_ADDR"`
	ClientAddr   string `yaml:"client_addr" env:"CLIENT_ADDR"`

	// Issuer is the public URL of the authorization server
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// ResourceURL is the public URL of the resource server
	ResourceURL   string `yaml:"resource_url" env:"RESOURCE_URL"`
	ResourceScope string `yaml:"resource_scope" env:"RESOURCE_SCOPE"`

	// ConsentMode is "page" for the interactive consent page or "query" to
	// approve requests carrying allow=true.
	ConsentMode string `yaml:"consent_mode" env:"CONSENT_MODE"`

	Tokens          TokenConfig           `yaml:"tokens" envPrefix:"TOKENS_"`
	Storage         StorageConfig         `yaml:"storage" envPrefix:"STORAGE_"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation" envPrefix:"INSTRUMENTATION_"`
	Client          ClientConfig          `yaml:"client" envPrefix:"CLIENT_"`
}

// TokenConfig mirrors the lifetimes of server.Config
type TokenConfig struct {
	CodeTTL              time.Duration `yaml:"code_ttl" env:"CODE_TTL"`
	AccessTTL            time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL           time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL"`
	DisableRefresh       bool          `yaml:"disable_refresh" env:"DISABLE_REFRESH"`
	DisableRotation      bool          `yaml:"disable_rotation" env:"DISABLE_ROTATION"`
	ClockSkewGracePeriod time.Duration `yaml:"clock_skew_grace_period" env:"CLOCK_SKEW_GRACE_PERIOD"`
}

// StorageConfig selects and configures the datasource
type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`

	ValkeyAddress  string `yaml:"valkey_address" env:"VALKEY_ADDRESS"`
	ValkeyPassword string `yaml:"valkey_password" env:"VALKEY_PASSWORD"`
	ValkeyDB       int    `yaml:"valkey_db" env:"VALKEY_DB"`

	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`

	// EncryptionKey is a base64 AES-256 key. Empty disables encryption at rest.
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

// RateLimitConfig limits the token endpoint per client IP
type RateLimitConfig struct {
	Rate       int  `yaml:"rate" env:"RATE"`
	Burst      int  `yaml:"burst" env:"BURST"`
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY"`
}

// InstrumentationConfig mirrors instrumentation.Config
type InstrumentationConfig struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	MetricsExporter string `yaml:"metrics_exporter" env:"METRICS_EXPORTER"`
	TracesExporter  string `yaml:"traces_exporter" env:"TRACES_EXPORTER"`
	OTLPEndpoint    string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure    bool   `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
	LogClientIPs    bool   `yaml:"log_client_ips" env:"LOG_CLIENT_IPS"`
}

// ClientConfig is the registration of the demo client
type ClientConfig struct {
	ID          string `yaml:"id" env:"ID"`
	Name        string `yaml:"name" env:"NAME"`
	Secret      string `yaml:"secret" env:"SECRET"`
	RedirectURI string `yaml:"redirect_uri" env:"REDIRECT_URI"`
	Scope       string `yaml:"scope" env:"SCOPE"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:      "info",
		LogFormat:     "text",
		AuthAddr:      ":8081",
		ResourceAddr:  ":8082",
		ClientAddr:    ":8080",
		Issuer:        "http://localhost:8081",
		ResourceURL:   "http://localhost:8082",
		ResourceScope: "default-scope",
		ConsentMode:   consentPage,
		Storage: StorageConfig{
			Backend:    memory.BackendName,
			SQLitePath: "codegrant.db",
		},
		Instrumentation: InstrumentationConfig{
			MetricsExporter: instrumentation.ExporterPrometheus,
			TracesExporter:  instrumentation.ExporterNone,
		},
		Client: ClientConfig{
			ID:          "local_client_id",
			Name:        "Local demo client",
			Secret:      "local_client_secret",
			RedirectURI: "http://localhost:8080/redirect",
			Scope:       "default-scope",
		},
	}
}

// loadConfig reads path, if set, over the defaults and applies the
// environment on top.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case memory.BackendName, sqlite.BackendName:
	case valkey.BackendName:
		if c.Storage.ValkeyAddress == "" {
			return fmt.Errorf("storage.valkey_address is required for the valkey backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.ConsentMode {
	case consentPage, consentQuery:
	default:
		return fmt.Errorf("unknown consent mode %q", c.ConsentMode)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}
