package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codegrant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.AuthAddr)
	assert.Equal(t, ":8082", cfg.ResourceAddr)
	assert.Equal(t, ":8080", cfg.ClientAddr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "local_client_id", cfg.Client.ID)
	assert.Equal(t, "http://localhost:8080/redirect", cfg.Client.RedirectURI)
	assert.Equal(t, consentPage, cfg.ConsentMode)
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
consent_mode: query
tokens:
  access_ttl: 15m
  disable_rotation: true
storage:
  backend: sqlite
  sqlite_path: /tmp/demo.db
client:
  id: yaml-client
  scope: "default-scope extra"
`)
	t.Setenv("CODEGRANT_CLIENT_ID", "env-client")
	t.Setenv("CODEGRANT_RATE_LIMIT_RATE", "5")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, consentQuery, cfg.ConsentMode)
	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL)
	assert.True(t, cfg.Tokens.DisableRotation)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/demo.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "env-client", cfg.Client.ID, "environment overrides the file")
	assert.Equal(t, "default-scope extra", cfg.Client.Scope)
	assert.Equal(t, 5, cfg.RateLimit.Rate)
	// Untouched keys keep their defaults.
	assert.Equal(t, "local_client_secret", cfg.Client.Secret)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "storage:\n  backend: etcd\n"},
		{"valkey without address", "storage:\n  backend: valkey\n"},
		{"unknown consent mode", "consent_mode: always\n"},
		{"bad log level", "log_level: chatty\n"},
		{"malformed yaml", "storage: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}
