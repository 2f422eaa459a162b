package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/server"
	"github.com/giantswarm/oauth-codegrant/storage"
)

const (
	tokenTypeBearer = "Bearer"

	metadataPath = "/.well-known/oauth-authorization-server"
)

// Handler is a thin HTTP adapter for the authorization server.
// It handles HTTP requests and delegates to server.Server for business logic.
type Handler struct {
	server      *server.Server
	provider    server.DecisionProvider
	config      *Config
	logger      *slog.Logger
	tracer      trace.Tracer
	rateLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler. A nil provider shows the consent
// page; pass &server.QueryFlagProvider{} to decide from the query instead.
func NewHandler(srv *server.Server, provider server.DecisionProvider, config *Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if provider == nil {
		provider = &server.ConsentPageProvider{Action: config.ConsentPath}
	}

	h := &Handler{
		server:   srv,
		provider: provider,
		config:   config,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer(""),
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	if config.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiterWithConfig(
			config.RateLimit.Rate, config.RateLimit.Burst, config.RateLimit.MaxEntries, logger)
	}

	return h
}

// Stop releases the background resources of the handler
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// Routes returns the authorization server router: the authorization
// endpoint, the consent form target, the token endpoint and the metadata
// document.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(h.instrument)

	r.Get(DefaultAuthorizePath, h.ServeAuthorization)
	r.Post(h.config.ConsentPath, h.ServeConsent)
	r.With(h.limitByIP).Post(DefaultTokenPath, h.ServeToken)
	r.Get(metadataPath, h.ServeAuthorizationServerMetadata)

	return r
}

// ResourceRoutes returns a router serving the protected resource behind a
// bearer token check for required.
func (h *Handler) ResourceRoutes(required scope.Scope) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(h.instrument)

	r.With(h.RequireToken(required)).Get(DefaultResourcePath, h.ServeResource)
	return r
}

// ServeAuthorization handles the authorization endpoint. Decision flags in
// its query are never treated as a consent form submission.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	h.authorize(w, r, false)
}

// ServeConsent handles the consent form submission. The form resubmits the
// authorization request parameters in the query together with the decision.
func (h *Handler) ServeConsent(w http.ResponseWriter, r *http.Request) {
	h.authorize(w, r, true)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, submitted bool) {
	query := r.URL.Query()
	req := server.AuthorizationRequestFromQuery(query)
	req.Submitted = submitted

	result, err := h.server.Authorize(r.Context(), req, h.provider, query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if result.Page != nil {
		security.SetPageSecurityHeaders(w, h.config.Issuer, result.Solicitation.RedirectURI)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Page)
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// ServeToken handles the token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	clientID, clientSecret, oauthErr := clientCredentials(r)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	resp, err := h.server.Exchange(r.Context(), &server.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ClientIP:     h.clientIP(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// clientCredentials reads the client credentials from HTTP Basic
// authentication or, failing that, from the form body. Basic credentials
// are form-encoded as RFC 6749 section 2.3.1 requires.
func clientCredentials(r *http.Request) (clientID, clientSecret string, oauthErr *OAuthError) {
	formID := r.PostForm.Get("client_id")

	user, pass, ok := r.BasicAuth()
	if !ok {
		return formID, r.PostForm.Get("client_secret"), nil
	}

	id, err := url.QueryUnescape(user)
	if err != nil {
		return "", "", ErrInvalidRequest("Malformed client credentials")
	}
	secret, err := url.QueryUnescape(pass)
	if err != nil {
		return "", "", ErrInvalidRequest("Malformed client credentials")
	}
	if formID != "" && formID != id {
		return "", "", ErrInvalidRequest("client_id does not match the authenticated client")
	}
	if r.PostForm.Get("client_secret") != "" {
		return "", "", ErrInvalidRequest("Only one client authentication method may be used")
	}
	return id, secret, nil
}

// ServeAuthorizationServerMetadata serves the RFC 8414 metadata document
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := h.config.Issuer
	if issuer == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		issuer = scheme + "://" + r.Host
	}
	issuer = strings.TrimSuffix(issuer, "/")

	metadata := AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + DefaultAuthorizePath,
		TokenEndpoint:                     issuer + DefaultTokenPath,
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               []string{server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
	}

	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// tokenContextKey carries the validated token record
type tokenContextKey struct{}

// TokenFromContext returns the token record stored by RequireToken.
func TokenFromContext(ctx context.Context) (*storage.TokenRecord, bool) {
	rec, ok := ctx.Value(tokenContextKey{}).(*storage.TokenRecord)
	return rec, ok && rec != nil
}

// RequireToken admits requests carrying a bearer token whose scope covers
// required. All rejections look the same to the caller.
func (h *Handler) RequireToken(required scope.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := extractBearerToken(r)

			rec, err := h.server.Guard(r.Context(), bearer, required)
			if err != nil {
				h.writeUnauthorized(w, required)
				return
			}

			ctx := context.WithValue(r.Context(), tokenContextKey{}, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServeResource serves the protected resource. It must run behind RequireToken.
func (h *Handler) ServeResource(w http.ResponseWriter, r *http.Request) {
	rec, ok := TokenFromContext(r.Context())
	if !ok {
		h.writeUnauthorized(w, scope.Scope{})
		return
	}

	security.LoggerWithRequestID(r.Context(), h.logger).Debug("Serving protected resource",
		"client_id", rec.Grant.ClientID,
		"grant_id", rec.Grant.ID)

	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(ResourceData))
}

// extractBearerToken returns the token of an "Authorization: Bearer" header,
// or "" when there is none.
func extractBearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// limitByIP applies the token endpoint rate limit when one is configured
func (h *Handler) limitByIP(next http.Handler) http.Handler {
	if h.rateLimiter == nil {
		return next
	}
	return h.rateLimiter.Middleware(h.clientIP, func(r *http.Request, ip string) {
		h.logger.Warn("Rate limit exceeded", "ip", ip, "endpoint", r.URL.Path)
		h.server.Auditor.LogRateLimitExceeded(r.Context(), ip, r.URL.Path)
		if h.server.Instrumentation != nil {
			h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
		}
	})(next)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.Proxy.TrustProxy, h.config.Proxy.TrustedProxyCount)
}

// instrument wraps every request in a span and records the request metric
// under the matched route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "oauth.http.request")
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		span.SetName("oauth.http " + r.Method + " " + route)
		instrumentation.AddHTTPAttributes(span, r.Method, route, status)
		if h.server.Instrumentation != nil && h.server.Instrumentation.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, h.clientIP(r))
		}
		if status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(status))
		}
		if h.server.Instrumentation != nil {
			h.server.Instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, route, status,
				float64(time.Since(start).Microseconds())/1000)
		}
	})
}

// writeError maps err onto an OAuth error response and logs server errors
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	oauthErr := ToOAuthError(err)
	log := security.LoggerWithRequestID(r.Context(), h.logger)
	if oauthErr.Status >= http.StatusInternalServerError {
		log.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Debug("Request rejected", "path", r.URL.Path, "code", oauthErr.Code, "error", err)
	}
	if oauthErr.Code == ErrorCodeInvalidToken {
		h.writeUnauthorized(w, scope.Scope{})
		return
	}
	h.writeOAuthError(w, oauthErr)
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	security.SetSecurityHeaders(w, h.config.Issuer)
	if oauthErr.Code == ErrorCodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeUnauthorized writes the single 401 response of the protected resource
func (h *Handler) writeUnauthorized(w http.ResponseWriter, required scope.Scope) {
	oauthErr := ErrInvalidToken("The access token is missing, invalid or expired")

	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(required.String(), oauthErr.Code, oauthErr.Description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// formatWWWAuthenticate builds an RFC 6750 section 3 challenge.
//
//	Bearer scope="default-scope", error="invalid_token", error_description="..."
func formatWWWAuthenticate(scopeStr, errCode, errorDesc string) string {
	var params []string
	if scopeStr != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quoteEscape(scopeStr)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteEscape(errorDesc)))
	}
	if len(params) == 0 {
		return tokenTypeBearer
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// quoteEscape escapes a value for an HTTP quoted-string. Backslashes go first.
func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
