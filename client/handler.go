package client

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/oauth-codegrant/security"
)

// Demo client routes
const (
	IndexPath    = "/"
	RedirectPath = "/redirect"
	HomePath     = "/home"
	RefreshPath  = "/refresh"
)

const noRefreshToken = "[no refresh token]"

var pageTemplates = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Code Grant Client</title></head>
<body>
<h1>Code Grant Client</h1>
<p><a href="{{.AuthURL}}">Authorize with the authorization server</a></p>
</body>
</html>
`))

func init() {
	template.Must(pageTemplates.New("home").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Code Grant Client</title></head>
<body>
<h1>Authorized</h1>
<dl>
<dt>Access token</dt><dd><code>{{.AccessToken}}</code></dd>
<dt>Refresh token</dt><dd><code>{{.RefreshToken}}</code></dd>
<dt>Scope</dt><dd>{{.Scope}}</dd>
<dt>Resource</dt><dd>{{.ResourceURL}}</dd>
</dl>
<h2>Protected resource</h2>
<p>Status: {{.ResourceStatus}}</p>
<pre>{{.ResourceBody}}</pre>
<form method="post" action="{{.RefreshPath}}"><button type="submit">Refresh tokens</button></form>
<p><a href="/">Start over</a></p>
</body>
</html>
`))
	template.Must(pageTemplates.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Code Grant Client</title></head>
<body>
<h1>Authorization failed</h1>
<p>{{.Message}}</p>
<p><a href="/">Start over</a></p>
</body>
</html>
`))
}

// Handler serves the demo pages of one client session.
type Handler struct {
	flow        *FlowController
	resourceURL string
	logger      *slog.Logger
}

// NewHandler creates the demo page handler for fc.
func NewHandler(fc *FlowController, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: fc, resourceURL: fc.resourceURL, logger: logger}
}

// Routes returns the client router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)

	r.Get(IndexPath, h.ServeIndex)
	r.Get(RedirectPath, h.ServeRedirect)
	r.Get(HomePath, h.ServeHome)
	r.With(sameOrigin).Post(RefreshPath, h.ServeRefresh)
	return r
}

// ServeIndex starts a new authorization on every visit.
func (h *Handler) ServeIndex(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.flow.StartAuthorization()
	if err != nil {
		h.renderError(w, r, http.StatusConflict, err)
		return
	}
	h.render(w, r, http.StatusOK, "index", struct{ AuthURL string }{authURL})
}

// ServeRedirect receives the authorization server's callback.
func (h *Handler) ServeRedirect(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.HandleCallback(r.Context(), r.URL.Query()); err != nil {
		h.renderError(w, r, statusFor(err), err)
		return
	}
	http.Redirect(w, r, HomePath, http.StatusFound)
}

// ServeHome shows the tokens and the protected resource fetched with them.
func (h *Handler) ServeHome(w http.ResponseWriter, r *http.Request) {
	tokens := h.flow.Tokens()
	if tokens.AccessToken == "" {
		http.Redirect(w, r, IndexPath, http.StatusFound)
		return
	}

	data := struct {
		AccessToken    string
		RefreshToken   string
		Scope          string
		ResourceURL    string
		ResourceStatus string
		ResourceBody   string
		RefreshPath    string
	}{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Scope:        tokens.Scope,
		ResourceURL:  h.resourceURL,
		RefreshPath:  RefreshPath,
	}
	if data.RefreshToken == "" {
		data.RefreshToken = noRefreshToken
	}

	resp, err := h.flow.CallProtectedResource(r.Context())
	if err != nil {
		security.LoggerWithRequestID(r.Context(), h.logger).Warn("Resource request failed", "error", err)
		data.ResourceStatus = "unavailable"
	} else {
		data.ResourceStatus = http.StatusText(resp.StatusCode)
		data.ResourceBody = string(resp.Body)
	}

	h.render(w, r, http.StatusOK, "home", data)
}

// ServeRefresh refreshes the tokens and returns to the home page.
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.Refresh(r.Context()); err != nil {
		h.renderError(w, r, statusFor(err), err)
		return
	}
	http.Redirect(w, r, HomePath, http.StatusFound)
}

// sameOrigin rejects browser form posts coming from another site. Requests
// without Origin or Sec-Fetch-Site headers are not from a browser form and
// pass through.
func sameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if site := r.Header.Get("Sec-Fetch-Site"); site != "" && site != "same-origin" && site != "none" {
			http.Error(w, "cross-site request rejected", http.StatusForbidden)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "cross-site request rejected", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	security.SetPageSecurityHeaders(w, "")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		security.LoggerWithRequestID(r.Context(), h.logger).Error("Failed to render page", "page", name, "error", err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	security.LoggerWithRequestID(r.Context(), h.logger).Info("Client flow failed", "path", r.URL.Path, "error", err)
	h.render(w, r, status, "error", struct{ Message string }{err.Error()})
}

// statusFor maps a flow error onto the status of the error page
func statusFor(err error) int {
	var upstream *UpstreamError
	switch {
	case errors.Is(err, ErrStateMismatch), errors.Is(err, ErrMissingCode), errors.Is(err, ErrNoRefreshToken):
		return http.StatusBadRequest
	case errors.Is(err, ErrRefreshInProgress):
		return http.StatusConflict
	case errors.As(err, &upstream):
		if upstream.Code == "access_denied" {
			return http.StatusForbidden
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
