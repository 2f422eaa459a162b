package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth-codegrant/server"
	"github.com/giantswarm/oauth-codegrant/storage"
	"github.com/giantswarm/oauth-codegrant/storage/kv"
)

// NewServer builds an authorization server whose client registry, code
// store and token store all live in ds. backend names ds in spans and
// metrics. The returned kv.Store is shared by the three roles; configure
// encryption or instrumentation on it before serving requests.
func NewServer(ds storage.Datasource, backend string, config *server.Config, logger *slog.Logger) (*server.Server, *kv.Store, error) {
	if ds == nil {
		return nil, nil, fmt.Errorf("datasource is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := kv.New(ds, backend)
	store.SetLogger(logger)

	srv, err := server.New(store, store, store, config, logger)
	if err != nil {
		return nil, nil, err
	}
	store.SetClockSkewGracePeriod(srv.Config.ClockSkewGracePeriod)

	return srv, store, nil
}
