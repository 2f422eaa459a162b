package server

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// Grant types accepted by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token" //nolint:gosec // grant type name, not a credential
)

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "Bearer"

// TokenRequest holds the parameters of a token endpoint request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string

	// ClientIP is only used for audit events.
	ClientIP string
}

// TokenResponse is the successful token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// Exchange handles a token endpoint request. The client is authenticated
// before the grant is looked at, so an unauthenticated caller learns nothing
// about codes or refresh tokens.
func (s *Server) Exchange(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "exchange")
	defer span.End()
	span.SetAttributes(attribute.String(instrumentation.AttrGrantType, req.GrantType))

	resp, err := s.exchange(ctx, span, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) exchange(ctx context.Context, span trace.Span, req *TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken:
	case "":
		return nil, badRequest("grant_type is required")
	default:
		return nil, newError(ErrUnsupportedGrantType, req.GrantType, nil)
	}

	if req.ClientID == "" {
		return nil, badRequest("client_id is required")
	}
	client, err := s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		s.Auditor.LogAuthFailure(ctx, req.ClientID, req.ClientIP, "client authentication failed")
		if errors.Is(err, storage.ErrUnauthorized) {
			return nil, newError(ErrInvalidClient, "", err)
		}
		return nil, fmt.Errorf("failed to authenticate client: %w", err)
	}
	instrumentation.AddGrantAttributes(span, "", client.ID, "", "")

	if req.GrantType == GrantTypeAuthorizationCode {
		return s.exchangeCode(ctx, client, req)
	}
	return s.refresh(ctx, client, req)
}

// exchangeCode redeems an authorization code for a token pair
func (s *Server) exchangeCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, badRequest("code is required")
	}
	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = client.RedirectURI
	}

	log := s.logger(ctx).With("client_id", client.ID, "code_prefix", util.SecretPrefix(req.Code))

	grant, err := s.codes.RedeemCode(ctx, req.Code, redirectURI)
	if err != nil {
		s.recordCodeExchange(ctx, client.ID, false)
		switch {
		case errors.Is(err, storage.ErrCodeUsed):
			log.Warn("Authorization code reuse detected")
			s.Auditor.LogCodeReuse(ctx, client.ID, req.ClientIP)
			if m := s.metrics(); m != nil {
				m.RecordCodeReuseDetected(ctx)
			}
			return nil, invalidGrant(err)
		case errors.Is(err, storage.ErrRedirectMismatch):
			log.Warn("Redirect URI mismatch at code redemption, code consumed")
			s.Auditor.LogRedirectMismatch(ctx, client.ID, req.ClientIP)
			return nil, invalidGrant(err)
		case errors.Is(err, storage.ErrCodeNotFound), errors.Is(err, storage.ErrCodeExpired):
			log.Debug("Authorization code rejected", "error", err)
			s.Auditor.LogAuthFailure(ctx, client.ID, req.ClientIP, err.Error())
			return nil, invalidGrant(err)
		}
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}

	if grant.ClientID != client.ID {
		s.recordCodeExchange(ctx, client.ID, false)
		log.Warn("Authorization code presented by another client", "grant_client_id", grant.ClientID)
		s.Auditor.LogAuthFailure(ctx, client.ID, req.ClientIP, "code issued to another client")
		return nil, invalidGrant(errors.New("code was issued to another client"))
	}

	pair, err := s.tokens.IssueTokens(ctx, grant, s.Config.Policy())
	if err != nil {
		s.recordCodeExchange(ctx, client.ID, false)
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	s.recordCodeExchange(ctx, client.ID, true)
	s.Auditor.LogTokenIssued(ctx, grant.OwnerID, client.ID, grant.ID, req.ClientIP, pair.Scope.String())
	log.Info("Exchanged authorization code", "grant_id", grant.ID)

	return s.tokenResponse(pair), nil
}

// refresh exchanges a refresh token for a new pair
func (s *Server) refresh(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, badRequest("refresh_token is required")
	}

	log := s.logger(ctx).With("client_id", client.ID, "token_prefix", util.SecretPrefix(req.RefreshToken))

	requested := scope.Parse(req.Scope)
	pair, err := s.tokens.RefreshTokens(ctx, client.ID, req.RefreshToken, requested, s.Config.Policy())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrScopeExceeded):
			log.Warn("Refresh asked for more scope than granted", "requested_scope", requested.String())
			s.Auditor.LogScopeEscalation(ctx, client.ID, req.ClientIP, requested.String())
			if m := s.metrics(); m != nil {
				m.RecordScopeEscalation(ctx, client.ID)
			}
			return nil, newError(ErrScopeExceeded, "", err)
		case errors.Is(err, storage.ErrTokenNotFound), errors.Is(err, storage.ErrTokenExpired):
			log.Debug("Refresh token rejected", "error", err)
			s.Auditor.LogAuthFailure(ctx, client.ID, req.ClientIP, err.Error())
			return nil, invalidGrant(err)
		}
		return nil, fmt.Errorf("failed to refresh tokens: %w", err)
	}

	s.Auditor.LogTokenRefreshed(ctx, pair.Grant.OwnerID, client.ID, pair.Grant.ID, req.ClientIP, pair.Rotated)
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, client.ID, pair.Rotated)
	}
	log.Info("Refreshed tokens", "grant_id", pair.Grant.ID, "rotated", pair.Rotated)

	return s.tokenResponse(pair), nil
}

func (s *Server) tokenResponse(pair *storage.TokenPair) *TokenResponse {
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.Config.AccessTokenTTL.Seconds()),
		RefreshToken: pair.RefreshToken,
		Scope:        pair.Scope.String(),
	}
}

func (s *Server) recordCodeExchange(ctx context.Context, clientID string, success bool) {
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID, success)
	}
}
