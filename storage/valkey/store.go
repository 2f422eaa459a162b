package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
)

const (
	// BackendName identifies this backend in spans and metrics.
	BackendName = "valkey"

	// DefaultKeyPrefix is prepended to every key when Config.KeyPrefix is empty.
	DefaultKeyPrefix = "codegrant:"

	connectionVerifyTimeout = 5 * time.Second
)

// Config holds the connection settings.
type Config struct {
	// Address is the host:port of the Valkey server (required)
	Address string

	// Password for AUTH, if the server requires one
	Password string

	// DB selects the logical database
	DB int

	// KeyPrefix namespaces all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// TLS enables TLS towards the server when set
	TLS *tls.Config

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Store is a storage.Datasource backed by Valkey.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// New connects to Valkey and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the underlying client.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
