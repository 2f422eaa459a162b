package client

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/util"
)

const (
	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"

	// maxResourceBodySize bounds how much of a resource response is read
	maxResourceBodySize = 1 << 20
)

// SessionState is the position of a FlowController in the code grant.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingRedirect
	StateAuthorized
	StateRefreshing
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateAuthorized:
		return "authorized"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Config describes the client registration and the endpoints it talks to.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scope is the space-delimited scope requested at authorization.
	Scope string

	AuthURL     string
	TokenURL    string
	ResourceURL string

	// HTTPClient is used for token and resource requests.
	// Default: a client with a 10 second timeout
	HTTPClient *http.Client
}

// Snapshot is a copy of the tokens held by a FlowController.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
}

// ResourceResponse is the outcome of a protected resource request.
type ResourceResponse struct {
	StatusCode int
	Body       []byte

	// Challenge is the WWW-Authenticate header of a rejected request.
	Challenge string
}

// Unauthorized reports whether the resource server rejected the token.
func (r *ResourceResponse) Unauthorized() bool {
	return r.StatusCode == http.StatusUnauthorized
}

// FlowController drives one client session through the code grant.
// It is safe for concurrent use.
type FlowController struct {
	oauth       *oauth2.Config
	resourceURL string
	httpClient  *http.Client
	logger      *slog.Logger

	tracer  trace.Tracer
	metrics *instrumentation.Metrics

	mu          sync.Mutex
	state       SessionState
	pendingCSRF string
	token       *oauth2.Token
}

// NewFlowController creates a controller in the Idle state.
func NewFlowController(config Config, logger *slog.Logger) (*FlowController, error) {
	if config.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if config.AuthURL == "" || config.TokenURL == "" {
		return nil, fmt.Errorf("authorization and token endpoints are required")
	}
	if config.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &FlowController{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       strings.Fields(config.Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		resourceURL: config.ResourceURL,
		httpClient:  httpClient,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer(""),
	}, nil
}

// SetInstrumentation enables spans and metrics for token requests
func (fc *FlowController) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	fc.tracer = inst.Tracer("client")
	fc.metrics = inst.Metrics()
}

// StartAuthorization mints a fresh anti-forgery state, remembers it as the
// pending request and returns the authorization URL carrying it. Any
// earlier pending request is forgotten. Tokens already held are kept until
// a new callback succeeds.
func (fc *FlowController) StartAuthorization() (string, error) {
	csrf := oauth2.GenerateVerifier()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.state == StateRefreshing {
		return "", ErrRefreshInProgress
	}
	fc.pendingCSRF = csrf
	fc.state = StateAwaitingRedirect

	return fc.oauth.AuthCodeURL(csrf), nil
}

// HandleCallback validates the redirect callback parameters and exchanges
// the code for tokens. The pending state is consumed by every call, so a
// failed callback requires a new StartAuthorization.
func (fc *FlowController) HandleCallback(ctx context.Context, params url.Values) error {
	fc.mu.Lock()
	expected := fc.pendingCSRF
	awaiting := fc.state == StateAwaitingRedirect
	if awaiting {
		fc.pendingCSRF = ""
		fc.state = fc.settledState()
	}
	fc.mu.Unlock()

	got := params.Get("state")
	if !awaiting || expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		fc.logger.Warn("Callback state mismatch", "state_prefix", util.SecretPrefix(got))
		return ErrStateMismatch
	}

	if code := params.Get("error"); code != "" {
		fc.logger.Info("Authorization server returned an error", "error", code)
		return &UpstreamError{
			Op:          "callback",
			Code:        code,
			Description: params.Get("error_description"),
		}
	}

	code := params.Get("code")
	if code == "" {
		return ErrMissingCode
	}

	ctx, span := fc.tracer.Start(ctx, "client.exchange")
	defer span.End()
	span.SetAttributes(attribute.String(instrumentation.AttrGrantType, grantTypeAuthorizationCode))

	tok, err := fc.oauth.Exchange(fc.httpContext(ctx), code)
	fc.recordExchange(ctx, grantTypeAuthorizationCode, err == nil)
	if err != nil {
		instrumentation.RecordError(span, err)
		fc.logger.Warn("Code exchange failed", "error", err)
		return upstreamError("exchange", err)
	}

	fc.mu.Lock()
	fc.token = tok
	fc.state = StateAuthorized
	fc.mu.Unlock()

	instrumentation.SetSpanSuccess(span)
	fc.logger.Info("Obtained tokens",
		"access_token_prefix", util.SecretPrefix(tok.AccessToken),
		"has_refresh_token", tok.RefreshToken != "")
	return nil
}

// Refresh exchanges the stored refresh token for a new pair. The stored
// pair is replaced as a whole on success and left untouched on failure.
func (fc *FlowController) Refresh(ctx context.Context) error {
	fc.mu.Lock()
	if fc.state == StateRefreshing {
		fc.mu.Unlock()
		return ErrRefreshInProgress
	}
	if fc.token == nil || fc.token.RefreshToken == "" {
		fc.mu.Unlock()
		return ErrNoRefreshToken
	}
	refreshToken := fc.token.RefreshToken
	previous := fc.state
	fc.state = StateRefreshing
	fc.mu.Unlock()

	ctx, span := fc.tracer.Start(ctx, "client.refresh")
	defer span.End()
	span.SetAttributes(attribute.String(instrumentation.AttrGrantType, grantTypeRefreshToken))

	// A token without an access token is never valid, so the source always
	// goes to the token endpoint.
	tok, err := fc.oauth.TokenSource(fc.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	fc.recordExchange(ctx, grantTypeRefreshToken, err == nil)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err != nil {
		fc.state = previous
		instrumentation.RecordError(span, err)
		fc.logger.Warn("Token refresh failed", "error", err)
		return upstreamError("refresh", err)
	}
	fc.token = tok
	if previous == StateAwaitingRedirect {
		fc.state = previous
	} else {
		fc.state = StateAuthorized
	}

	instrumentation.SetSpanSuccess(span)
	fc.logger.Info("Refreshed tokens",
		"access_token_prefix", util.SecretPrefix(tok.AccessToken),
		"rotated", tok.RefreshToken != refreshToken)
	return nil
}

// CallProtectedResource requests the resource with the current access
// token. Rejections are returned in the response, not retried.
func (fc *FlowController) CallProtectedResource(ctx context.Context) (*ResourceResponse, error) {
	if fc.resourceURL == "" {
		return nil, fmt.Errorf("no resource URL configured")
	}

	fc.mu.Lock()
	var accessToken string
	if fc.token != nil {
		accessToken = fc.token.AccessToken
	}
	fc.mu.Unlock()
	if accessToken == "" {
		return nil, ErrNotAuthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fc.resourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := fc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resource request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read resource response: %w", err)
	}

	return &ResourceResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Challenge:  resp.Header.Get("WWW-Authenticate"),
	}, nil
}

// Tokens returns a copy of the current tokens.
func (fc *FlowController) Tokens() Snapshot {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.token == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		AccessToken:  fc.token.AccessToken,
		RefreshToken: fc.token.RefreshToken,
		TokenType:    fc.token.Type(),
		Expiry:       fc.token.Expiry,
	}
	if s, ok := fc.token.Extra("scope").(string); ok {
		snap.Scope = s
	}
	return snap
}

// State returns the current session state.
func (fc *FlowController) State() SessionState {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.state
}

// settledState is the state to fall back to when a pending request ends.
// Callers hold fc.mu.
func (fc *FlowController) settledState() SessionState {
	if fc.token != nil {
		return StateAuthorized
	}
	return StateIdle
}

func (fc *FlowController) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, fc.httpClient)
}

func (fc *FlowController) recordExchange(ctx context.Context, grantType string, success bool) {
	if fc.metrics != nil {
		fc.metrics.RecordClientExchange(ctx, grantType, success)
	}
}

// upstreamError converts an oauth2 token endpoint failure
func upstreamError(op string, err error) *UpstreamError {
	ue := &UpstreamError{Op: op, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ue.Code = re.ErrorCode
		ue.Description = re.ErrorDescription
		if re.Response != nil {
			ue.StatusCode = re.Response.StatusCode
		}
	}
	return ue
}
