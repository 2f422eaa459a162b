package server

import (
	"errors"
)

// Error kinds returned by the flows. Callers match them with errors.Is and
// map them onto protocol responses.
var (
	// ErrBadRequest indicates a malformed or inconsistent request.
	ErrBadRequest = errors.New("bad request")

	// ErrUnsupportedGrantType indicates a token request with a grant type
	// other than authorization_code or refresh_token.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// ErrInvalidClient indicates failed client authentication.
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidGrant indicates an unknown, expired, consumed or mismatched
	// code or refresh token.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrScopeExceeded indicates a refresh asking for more than the grant.
	ErrScopeExceeded = errors.New("scope exceeds grant")

	// ErrAccessDenied indicates the resource owner declined consent.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnauthorized indicates a protected resource request without a
	// valid bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// Error carries an error kind, a description that is safe to show to the
// caller, and the underlying cause for logging.
type Error struct {
	Kind        error
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Err: cause}
}

func badRequest(description string) *Error {
	return newError(ErrBadRequest, description, nil)
}

func invalidGrant(cause error) *Error {
	return newError(ErrInvalidGrant, "", cause)
}
