package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// Server implements the authorization server logic.
// It coordinates the code grant flows over the storage roles.
type Server struct {
	clients storage.ClientRegistry
	codes   storage.CodeStore
	tokens  storage.TokenStore

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
}

// New creates a new authorization server
func New(
	clients storage.ClientRegistry,
	codes storage.CodeStore,
	tokens storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client registry is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		Config:  applyDefaults(config, logger),
		Logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer(""),
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables tracing and metrics for the flows
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
		s.Auditor.SetMetrics(inst.Metrics())
	}
}

// metrics returns the metric holder or nil when instrumentation is off
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "server."+name)
}

// logger returns the server logger annotated with the request ID of ctx
func (s *Server) logger(ctx context.Context) *slog.Logger {
	return security.LoggerWithRequestID(ctx, s.Logger)
}
