// Command codegrant-demo runs the three parties of the authorization code
// grant in one process: the authorization server, the resource server and
// a client with its browser pages.
//
// Configuration is read from the YAML file named by -config and from
// CODEGRANT_* environment variables. See config.go for the keys.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	oauth "github.com/giantswarm/oauth-codegrant"
	"github.com/giantswarm/oauth-codegrant/client"
	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/server"
	"github.com/giantswarm/oauth-codegrant/storage"
	"github.com/giantswarm/oauth-codegrant/storage/kv"
	"github.com/giantswarm/oauth-codegrant/storage/memory"
	"github.com/giantswarm/oauth-codegrant/storage/sqlite"
	"github.com/giantswarm/oauth-codegrant/storage/valkey"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv(envPrefix+"CONFIG"), "path to the YAML configuration file")
	generateKey := flag.Bool("generate-key", false, "print a fresh storage.encryption_key and exit")
	flag.Parse()

	if *generateKey {
		key, err := newEncryptionKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Demo exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg Config) *slog.Logger {
	level, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "codegrant-demo",
		Enabled:         cfg.Instrumentation.Enabled,
		MetricsExporter: cfg.Instrumentation.MetricsExporter,
		TracesExporter:  cfg.Instrumentation.TracesExporter,
		OTLPEndpoint:    cfg.Instrumentation.OTLPEndpoint,
		OTLPInsecure:    cfg.Instrumentation.OTLPInsecure,
		LogClientIPs:    cfg.Instrumentation.LogClientIPs,
	})
	if err != nil {
		return fmt.Errorf("instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	ds, closeStorage, err := openDatasource(cfg.Storage, inst, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	srv, store, err := oauth.NewServer(ds, cfg.Storage.Backend, &server.Config{
		AuthorizationCodeTTL:        cfg.Tokens.CodeTTL,
		AccessTokenTTL:              cfg.Tokens.AccessTTL,
		RefreshTokenTTL:             cfg.Tokens.RefreshTTL,
		DisableRefreshTokens:        cfg.Tokens.DisableRefresh,
		DisableRefreshTokenRotation: cfg.Tokens.DisableRotation,
		ClockSkewGracePeriod:        cfg.Tokens.ClockSkewGracePeriod,
	}, logger)
	if err != nil {
		return fmt.Errorf("authorization server: %w", err)
	}
	if err := configureStore(store, cfg.Storage, inst, logger); err != nil {
		return err
	}
	srv.SetAuditor(security.NewAuditor(logger, true))
	srv.SetInstrumentation(inst)

	if _, err := srv.RegisterClient(ctx, server.ClientRegistration{
		ID:          cfg.Client.ID,
		Name:        cfg.Client.Name,
		Secret:      cfg.Client.Secret,
		RedirectURI: cfg.Client.RedirectURI,
		Scope:       cfg.Client.Scope,
	}); err != nil {
		return fmt.Errorf("register demo client: %w", err)
	}

	var provider server.DecisionProvider
	if cfg.ConsentMode == consentQuery {
		provider = &server.QueryFlagProvider{}
	}
	handler := oauth.NewHandler(srv, provider, &oauth.Config{
		Issuer: cfg.Issuer,
		RateLimit: oauth.RateLimitConfig{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		},
		Proxy: oauth.ProxyConfig{TrustProxy: cfg.RateLimit.TrustProxy},
	}, logger)
	defer handler.Stop()

	authRouter := handler.Routes()
	authRouter.Get("/health", serveHealth)
	if cfg.Instrumentation.Enabled && cfg.Instrumentation.MetricsExporter == instrumentation.ExporterPrometheus {
		authRouter.Handle("/metrics", promhttp.Handler())
		logger.Info("Prometheus metrics enabled", "url", strings.TrimSuffix(cfg.Issuer, "/")+"/metrics")
	}

	resourceRouter := handler.ResourceRoutes(scope.Parse(cfg.ResourceScope))
	resourceRouter.Get("/health", serveHealth)

	flow, err := client.NewFlowController(client.Config{
		ClientID:     cfg.Client.ID,
		ClientSecret: cfg.Client.Secret,
		RedirectURL:  cfg.Client.RedirectURI,
		Scope:        cfg.Client.Scope,
		AuthURL:      strings.TrimSuffix(cfg.Issuer, "/") + oauth.DefaultAuthorizePath,
		TokenURL:     strings.TrimSuffix(cfg.Issuer, "/") + oauth.DefaultTokenPath,
		ResourceURL:  strings.TrimSuffix(cfg.ResourceURL, "/") + oauth.DefaultResourcePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	flow.SetInstrumentation(inst)
	clientRouter := client.NewHandler(flow, logger).Routes()

	return serve(ctx, logger, map[string]*http.Server{
		"authorization": newHTTPServer(cfg.AuthAddr, authRouter),
		"resource":      newHTTPServer(cfg.ResourceAddr, resourceRouter),
		"client":        newHTTPServer(cfg.ClientAddr, clientRouter),
	})
}

// openDatasource opens the configured backend. The returned func releases it.
func openDatasource(cfg StorageConfig, inst *instrumentation.Instrumentation, logger *slog.Logger) (storage.Datasource, func(), error) {
	switch cfg.Backend {
	case valkey.BackendName:
		ds, err := valkey.New(valkey.Config{
			Address:  cfg.ValkeyAddress,
			Password: cfg.ValkeyPassword,
			DB:       cfg.ValkeyDB,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("valkey storage: %w", err)
		}
		return ds, ds.Close, nil

	case sqlite.BackendName:
		ds, err := sqlite.Open(cfg.SQLitePath, sqlite.DefaultCleanupInterval)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite storage: %w", err)
		}
		ds.SetLogger(logger)
		if err := inst.RegisterStorageSizeCallback(sqlite.BackendName, func() int64 {
			n, err := ds.Len(context.Background())
			if err != nil {
				return 0
			}
			return n
		}); err != nil {
			logger.Warn("Failed to register storage size callback", "error", err)
		}
		logger.Info("Using sqlite storage", "path", cfg.SQLitePath)
		return ds, func() { _ = ds.Close() }, nil

	default:
		ds := memory.New()
		ds.SetLogger(logger)
		ds.SetInstrumentation(inst)
		logger.Info("Using in-memory storage")
		return ds, ds.Stop, nil
	}
}

func configureStore(store *kv.Store, cfg StorageConfig, inst *instrumentation.Instrumentation, logger *slog.Logger) error {
	store.SetInstrumentation(inst)
	if cfg.EncryptionKey == "" {
		return nil
	}
	key, err := security.KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	store.SetEncryptor(enc)
	logger.Info("Encryption at rest enabled")
	return nil
}

// newEncryptionKey returns a random AES-256 key in the base64 form that
// storage.encryption_key expects.
func newEncryptionKey() (string, error) {
	key, err := security.GenerateKey()
	if err != nil {
		return "", err
	}
	return security.KeyToBase64(key), nil
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serve runs the servers until ctx is done or one of them fails, then
// shuts all of them down.
func serve(ctx context.Context, logger *slog.Logger, servers map[string]*http.Server) error {
	errCh := make(chan error, len(servers))
	var wg sync.WaitGroup

	for name, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Listening", "server", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for name, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown failed", "server", name, "error", err)
		}
	}
	wg.Wait()

	return runErr
}

func serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
