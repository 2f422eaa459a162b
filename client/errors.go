package client

import (
	"errors"
	"fmt"
)

var (
	// ErrStateMismatch means the callback did not echo the state of the
	// pending authorization request. The attempt is abandoned.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrMissingCode means the callback carried neither a code nor an error.
	ErrMissingCode = errors.New("authorization code missing from callback")

	// ErrNoRefreshToken means there is no refresh token to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrNotAuthorized means no access token has been obtained yet.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrRefreshInProgress means another refresh of the session is outstanding.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

// UpstreamError reports a failure returned by the authorization server,
// either as an error in the redirect callback or as a token endpoint error
// response, or a transport failure while talking to it.
type UpstreamError struct {
	// Op is the step that failed: "callback", "exchange" or "refresh".
	Op string

	// Code is the OAuth error code, if the server sent one.
	Code string

	// Description is the error_description, if any.
	Description string

	// StatusCode is the HTTP status of a token endpoint error response.
	StatusCode int

	Err error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": upstream failure"
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
