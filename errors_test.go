package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/giantswarm/oauth-codegrant/server"
	"github.com/giantswarm/oauth-codegrant/storage"
)

func TestOAuthError_Error(t *testing.T) {
	e := NewOAuthError(ErrorCodeInvalidRequest, "Missing required parameter", http.StatusBadRequest)
	if got, want := e.Error(), "invalid_request: Missing required parameter"; got != want {
		t.Errorf("OAuthError.Error() = %q, want %q", got, want)
	}
}

func TestToOAuthError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"bad request", &server.Error{Kind: server.ErrBadRequest, Description: "code is required"}, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"unsupported grant type", &server.Error{Kind: server.ErrUnsupportedGrantType}, ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"invalid client", &server.Error{Kind: server.ErrInvalidClient, Err: storage.ErrUnauthorized}, ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid grant", &server.Error{Kind: server.ErrInvalidGrant, Err: storage.ErrCodeUsed}, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"scope exceeded", &server.Error{Kind: server.ErrScopeExceeded}, ErrorCodeInvalidScope, http.StatusBadRequest},
		{"access denied", server.ErrAccessDenied, ErrorCodeAccessDenied, http.StatusForbidden},
		{"unauthorized", &server.Error{Kind: server.ErrUnauthorized}, ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"wrapped kind", fmt.Errorf("outer: %w", &server.Error{Kind: server.ErrInvalidGrant}), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"oauth error passes through", ErrInvalidScope("x"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{"unknown error", errors.New("disk on fire"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToOAuthError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantStatus)
			}
		})
	}
}

func TestToOAuthError_HidesCauses(t *testing.T) {
	causes := []error{storage.ErrCodeUsed, storage.ErrCodeExpired, storage.ErrCodeNotFound, storage.ErrRedirectMismatch}

	var first string
	for _, cause := range causes {
		got := ToOAuthError(&server.Error{Kind: server.ErrInvalidGrant, Err: cause})
		if first == "" {
			first = got.Description
		}
		if got.Description != first {
			t.Errorf("description for %v = %q, want the same as for the others (%q)", cause, got.Description, first)
		}
	}

	if got := ToOAuthError(errors.New("secret internal detail")); got.Description != "Internal server error" {
		t.Errorf("server error description = %q leaks details", got.Description)
	}
}
