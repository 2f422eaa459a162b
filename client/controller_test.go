package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-codegrant/internal/testutil"
)

// fakeAuthServer is a token endpoint and protected resource with scripted
// responses.
type fakeAuthServer struct {
	srv *httptest.Server

	tokenCalls    atomic.Int32
	resourceCalls atomic.Int32

	// refreshStatus, when non-zero, makes refresh requests fail with it
	refreshStatus atomic.Int32
	// noRotate drops the refresh token from refresh responses
	noRotate atomic.Bool
	// resourceStatus, when non-zero, is returned by the resource
	resourceStatus atomic.Int32
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.serveToken)
	mux.HandleFunc("/resource", f.serveResource)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthServer) serveToken(w http.ResponseWriter, r *http.Request) {
	n := f.tokenCalls.Add(1)
	_ = r.ParseForm()

	user, pass, ok := r.BasicAuth()
	if !ok || user != testutil.TestClientID || pass != testutil.TestClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "The authorization grant is invalid",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         testutil.TestScope,
		})
	case "refresh_token":
		if status := f.refreshStatus.Load(); status != 0 {
			writeJSON(w, int(status), map[string]string{"error": "invalid_grant"})
			return
		}
		resp := map[string]any{
			"access_token": "access-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        testutil.TestScope,
		}
		if !f.noRotate.Load() {
			resp["refresh_token"] = "refresh-" + string(rune('0'+n))
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (f *fakeAuthServer) serveResource(w http.ResponseWriter, r *http.Request) {
	f.resourceCalls.Add(1)
	if status := f.resourceStatus.Load(); status != 0 {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(int(status))
		return
	}
	_, _ = w.Write([]byte("resource for " + r.Header.Get("Authorization")))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestController(t *testing.T, f *fakeAuthServer) *FlowController {
	t.Helper()
	fc, err := NewFlowController(Config{
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
		RedirectURL:  testutil.TestRedirectURI,
		Scope:        testutil.TestScope,
		AuthURL:      f.srv.URL + "/authorize",
		TokenURL:     f.srv.URL + "/token",
		ResourceURL:  f.srv.URL + "/resource",
		HTTPClient:   f.srv.Client(),
	}, nil)
	require.NoError(t, err)
	return fc
}

// pendingState starts an authorization and returns the state it carries
func pendingState(t *testing.T, fc *FlowController) string {
	t.Helper()
	authURL, err := fc.StartAuthorization()
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func authorize(t *testing.T, fc *FlowController) {
	t.Helper()
	state := pendingState(t, fc)
	require.NoError(t, fc.HandleCallback(context.Background(), url.Values{"state": {state}, "code": {"good-code"}}))
}

func TestNewFlowController_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing client id", Config{AuthURL: "http://a/authorize", TokenURL: "http://a/token", RedirectURL: "http://c/cb"}},
		{"missing endpoints", Config{ClientID: "c", RedirectURL: "http://c/cb"}},
		{"missing redirect", Config{ClientID: "c", AuthURL: "http://a/authorize", TokenURL: "http://a/token"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFlowController(tt.config, nil)
			assert.Error(t, err)
		})
	}
}

func TestStartAuthorization(t *testing.T) {
	fc := newTestController(t, newFakeAuthServer(t))
	assert.Equal(t, StateIdle, fc.State())

	authURL, err := fc.StartAuthorization()
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingRedirect, fc.State())

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, testutil.TestClientID, q.Get("client_id"))
	assert.Equal(t, testutil.TestRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, testutil.TestScope, q.Get("scope"))
	assert.NotEmpty(t, q.Get("state"))

	second := pendingState(t, fc)
	assert.NotEqual(t, q.Get("state"), second, "every authorization must mint a fresh state")
}

func TestHandleCallback_Success(t *testing.T) {
	f := newFakeAuthServer(t)
	fc := newTestController(t, f)

	authorize(t, fc)

	assert.Equal(t, StateAuthorized, fc.State())
	tokens := fc.Tokens()
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, testutil.TestScope, tokens.Scope)
	assert.False(t, tokens.Expiry.IsZero())
}

func TestHandleCallback_StateMismatchNeverExchanges(t *testing.T) {
	f := newFakeAuthServer(t)
	fc := newTestController(t, f)
	state := pendingState(t, fc)

	err := fc.HandleCallback(context.Background(), url.Values{"state": {state + "x"}, "code": {"good-code"}})
	assert.ErrorIs(t, err, ErrStateMismatch)

	// The pending state was consumed by the failed attempt.
	err = fc.HandleCallback(context.Background(), url.Values{"state": {state}, "code": {"good-code"}})
	assert.ErrorIs(t, err, ErrStateMismatch)

	assert.Zero(t, f.tokenCalls.Load(), "token endpoint must not be called")
	assert.Equal(t, StateIdle, fc.State())
	assert.Empty(t, fc.Tokens().AccessToken)
}

func TestHandleCallback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		params     func(state string) url.Values
		wantErr    error
		wantCode   string
		wantStatus int
	}{
		{
			name:    "missing state",
			params:  func(string) url.Values { return url.Values{"code": {"good-code"}} },
			wantErr: ErrStateMismatch,
		},
		{
			name: "access denied",
			params: func(state string) url.Values {
				return url.Values{"state": {state}, "error": {"access_denied"}}
			},
			wantCode: "access_denied",
		},
		{
			name:    "missing code",
			params:  func(state string) url.Values { return url.Values{"state": {state}} },
			wantErr: ErrMissingCode,
		},
		{
			name: "token endpoint rejects code",
			params: func(state string) url.Values {
				return url.Values{"state": {state}, "code": {"used-code"}}
			},
			wantCode:   "invalid_grant",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newTestController(t, newFakeAuthServer(t))
			state := pendingState(t, fc)

			err := fc.HandleCallback(context.Background(), tt.params(state))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				var upstream *UpstreamError
				require.True(t, errors.As(err, &upstream), "error %v is not an UpstreamError", err)
				assert.Equal(t, tt.wantCode, upstream.Code)
				assert.Equal(t, tt.wantStatus, upstream.StatusCode)
			}
			assert.Equal(t, StateIdle, fc.State())
			assert.Empty(t, fc.Tokens().AccessToken)
		})
	}
}

func TestHandleCallback_WithoutPendingRequest(t *testing.T) {
	f := newFakeAuthServer(t)
	fc := newTestController(t, f)

	err := fc.HandleCallback(context.Background(), url.Values{"state": {""}, "code": {"good-code"}})
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Zero(t, f.tokenCalls.Load())
}

func TestRefresh_Rotates(t *testing.T) {
	f := newFakeAuthServer(t)
	fc := newTestController(t, f)
	authorize(t, fc)

	require.NoError(t, fc.Refresh(context.Background()))

	tokens := fc.Tokens()
	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.Equal(t, "refresh-2", tokens.RefreshToken)
	assert.Equal(t, StateAuthorized, fc.State())
}

func TestRefresh_KeepsRefreshTokenWithoutRotation(t *testing.T) {
	f := newFakeAuthServer(t)
	f.noRotate.Store(true)
	fc := newTestController(t, f)
	authorize(t, fc)

	require.NoError(t, fc.Refresh(context.Background()))

	tokens := fc.Tokens()
	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
}

func TestRefresh_FailureLeavesTokens(t *testing.T) {
	f := newFakeAuthServer(t)
	fc := newTestController(t, f)
	authorize(t, fc)
	before := fc.Tokens()

	f.refreshStatus.Store(http.StatusBadRequest)
	err := fc.Refresh(context.Background())

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "refresh", upstream.Op)
	assert.Equal(t, "invalid_grant", upstream.Code)
	assert.Equal(t, before, fc.Tokens())
	assert.Equal(t, StateAuthorized, fc.State())
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	fc := newTestController(t, newFakeAuthServer(t))
	assert.ErrorIs(t, fc.Refresh(context.Background()), ErrNoRefreshToken)
}

func TestCallProtectedResource(t *testing.T) {
	f := newFakeAuthServer(t)
	fc := newTestController(t, f)

	_, err := fc.CallProtectedResource(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)

	authorize(t, fc)
	resp, err := fc.CallProtectedResource(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resource for Bearer access-1", string(resp.Body))
}

func TestCallProtectedResource_SurfacesUnauthorized(t *testing.T) {
	f := newFakeAuthServer(t)
	fc := newTestController(t, f)
	authorize(t, fc)
	callsBefore := f.tokenCalls.Load()

	f.resourceStatus.Store(http.StatusUnauthorized)
	resp, err := fc.CallProtectedResource(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Unauthorized())
	assert.Contains(t, resp.Challenge, "Bearer")

	assert.Equal(t, callsBefore, f.tokenCalls.Load(), "a 401 must not trigger a refresh")
	assert.Equal(t, "access-1", fc.Tokens().AccessToken)
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting_redirect", StateAwaitingRedirect.String())
	assert.Equal(t, "authorized", StateAuthorized.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "SessionState(9)", SessionState(9).String())
}

func TestUpstreamError_Error(t *testing.T) {
	assert.Equal(t, "callback: access_denied", (&UpstreamError{Op: "callback", Code: "access_denied"}).Error())
	assert.Equal(t, "exchange: invalid_grant: nope", (&UpstreamError{Op: "exchange", Code: "invalid_grant", Description: "nope"}).Error())

	cause := errors.New("connection refused")
	err := &UpstreamError{Op: "refresh", Err: cause}
	assert.Equal(t, "refresh: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}
