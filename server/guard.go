package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// Guard admits a protected resource request when bearer is a live access
// token whose scope covers required. Every rejection, whatever its cause,
// is reported as ErrUnauthorized.
func (s *Server) Guard(ctx context.Context, bearer string, required scope.Scope) (*storage.TokenRecord, error) {
	ctx, span := s.startSpan(ctx, "guard")
	defer span.End()

	rec, err := s.guard(ctx, bearer, required)
	if err != nil {
		s.logger(ctx).Debug("Rejected protected resource request",
			"token_prefix", util.SecretPrefix(bearer),
			"reason", err)
		if m := s.metrics(); m != nil {
			m.RecordGuardRejected(ctx)
		}
		instrumentation.SetSpanError(span, "unauthorized")
		return nil, newError(ErrUnauthorized, "", err)
	}

	instrumentation.AddGrantAttributes(span, rec.Grant.ID, rec.Grant.ClientID, rec.Grant.OwnerID, rec.Scope.String())
	instrumentation.SetSpanSuccess(span)
	return rec, nil
}

func (s *Server) guard(ctx context.Context, bearer string, required scope.Scope) (*storage.TokenRecord, error) {
	if bearer == "" {
		return nil, errors.New("missing bearer token")
	}
	rec, err := s.tokens.ValidateAccessToken(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if !required.SubsetOf(rec.Scope) {
		return nil, fmt.Errorf("token scope %q does not cover %q", rec.Scope.String(), required.String())
	}
	return rec, nil
}
