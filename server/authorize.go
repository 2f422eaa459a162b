package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// ResponseTypeCode is the only response type this server supports.
const ResponseTypeCode = "code"

// AuthorizationRequest holds the parameters of an authorization request.
type AuthorizationRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string

	// Submitted marks a consent form submission. Only a submitted request
	// may carry the owner's decision to a page based provider.
	Submitted bool
}

// AuthorizationRequestFromQuery reads an authorization request from query
// parameters.
func AuthorizationRequestFromQuery(q url.Values) *AuthorizationRequest {
	return &AuthorizationRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}
}

// AuthorizationResult is the outcome of Authorize. Exactly one of Page and
// RedirectURL is set.
type AuthorizationResult struct {
	// Page is the consent page to show while the decision is in progress.
	Page []byte

	// RedirectURL sends the user agent back to the client, carrying either
	// a code or error=access_denied, plus the state when one was given.
	RedirectURL string

	// Denied reports that the owner declined and no code was issued.
	Denied bool

	// Solicitation is the validated request the decision was made for.
	Solicitation *Solicitation
}

// Authorize validates req, asks provider for the owner's decision and, once
// approved, issues an authorization code bound to the client, the redirect
// URI, the scope and the owner.
//
// Validation failures return an error wrapping ErrBadRequest and must not be
// redirected, since the redirect target itself may be the problem.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, provider DecisionProvider, query url.Values) (*AuthorizationResult, error) {
	ctx, span := s.startSpan(ctx, "authorize")
	defer span.End()

	sol, err := s.validateAuthorizationRequest(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddGrantAttributes(span, "", sol.ClientID, "", sol.Scope)

	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, sol.ClientID)
	}

	decision, err := provider.Decide(ctx, sol, query)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to obtain consent decision: %w", err)
	}
	span.SetAttributes(attribute.String(instrumentation.AttrDecision, decision.Kind.String()))
	if decision.Kind != DecisionInProgress {
		if m := s.metrics(); m != nil {
			m.RecordConsentDecision(ctx, sol.ClientID, decision.Kind.String())
		}
	}

	switch decision.Kind {
	case DecisionInProgress:
		return &AuthorizationResult{Page: decision.Page, Solicitation: sol}, nil

	case DecisionDenied:
		s.Auditor.LogConsentDenied(ctx, sol.ClientID, sol.Scope)
		redirect, err := buildRedirect(sol.RedirectURI, map[string]string{
			"error": "access_denied",
			"state": sol.State,
		})
		if err != nil {
			return nil, err
		}
		instrumentation.SetSpanSuccess(span)
		return &AuthorizationResult{RedirectURL: redirect, Denied: true, Solicitation: sol}, nil

	case DecisionAuthorized:
		if decision.OwnerID == "" {
			err := errors.New("consent approved without an owner")
			instrumentation.RecordError(span, err)
			return nil, err
		}
		grant := &storage.Grant{
			ID:          uuid.NewString(),
			ClientID:    sol.ClientID,
			RedirectURI: sol.RedirectURI,
			Scope:       scope.Parse(sol.Scope),
			OwnerID:     decision.OwnerID,
		}
		code, err := s.codes.IssueCode(ctx, grant, s.Config.AuthorizationCodeTTL)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, fmt.Errorf("failed to issue authorization code: %w", err)
		}

		redirect, err := buildRedirect(sol.RedirectURI, map[string]string{
			"code":  code,
			"state": sol.State,
		})
		if err != nil {
			return nil, err
		}

		s.Auditor.LogCodeIssued(ctx, grant.OwnerID, grant.ClientID, grant.ID)
		if m := s.metrics(); m != nil {
			m.RecordCodeIssued(ctx, grant.ClientID)
		}
		instrumentation.AddGrantAttributes(span, grant.ID, "", grant.OwnerID, "")
		instrumentation.SetSpanSuccess(span)
		return &AuthorizationResult{RedirectURL: redirect, Solicitation: sol}, nil
	}

	return nil, fmt.Errorf("unknown consent decision %d", decision.Kind)
}

// validateAuthorizationRequest checks req against the client registration
// and fills in the registered redirect URI and scope when they are omitted.
func (s *Server) validateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*Solicitation, error) {
	reject := func(reason string) error {
		s.Auditor.LogAuthorizationRejected(ctx, req.ClientID, reason)
		s.logger(ctx).Debug("Rejected authorization request", "client_id", req.ClientID, "reason", reason)
		return badRequest(reason)
	}

	if req.ResponseType != ResponseTypeCode {
		return nil, reject("response_type must be code")
	}
	if req.ClientID == "" {
		return nil, reject("client_id is required")
	}

	client, err := s.clients.LookupClient(ctx, req.ClientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		return nil, reject("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = client.RedirectURI
	} else if redirectURI != client.RedirectURI {
		return nil, reject("redirect_uri does not match the registered redirect URI")
	}

	requested := scope.Parse(req.Scope)
	if requested.IsEmpty() {
		requested = client.Scope
	} else if !requested.SubsetOf(client.Scope) {
		return nil, reject("scope exceeds the client's registered scope")
	}

	return &Solicitation{
		ClientID:    client.ID,
		ClientName:  client.Name,
		RedirectURI: redirectURI,
		Scope:       requested.String(),
		State:       req.State,
		Submitted:   req.Submitted,
	}, nil
}

// buildRedirect appends params to redirectURI, keeping its existing query.
// Empty values are skipped.
func buildRedirect(redirectURI string, params map[string]string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
