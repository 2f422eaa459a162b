package server

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// Client types reported in audit events and metrics.
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// ClientRegistration describes a client to register. An empty Secret
// registers a public client.
type ClientRegistration struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Secret      string `yaml:"secret"`
	RedirectURI string `yaml:"redirect_uri"`
	Scope       string `yaml:"scope"`
}

// RegisterClient validates reg, hashes its secret and stores it. Registering
// an existing ID replaces the previous registration.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*storage.Client, error) {
	if reg.ID == "" {
		return nil, badRequest("client_id is required")
	}
	if err := validateRedirectURI(reg.RedirectURI); err != nil {
		return nil, newError(ErrBadRequest, "invalid redirect_uri", err)
	}
	sc := scope.Parse(reg.Scope)
	if sc.IsEmpty() {
		return nil, badRequest("scope is required")
	}

	client := &storage.Client{
		ID:          reg.ID,
		Name:        reg.Name,
		RedirectURI: reg.RedirectURI,
		Scope:       sc,
	}

	clientType := ClientTypePublic
	if reg.Secret != "" {
		cost := s.Config.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(reg.Secret), cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.SecretHash = string(hash)
		clientType = ClientTypeConfidential
	}

	if err := s.clients.RegisterClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to register client: %w", err)
	}

	s.Auditor.LogClientRegistered(ctx, client.ID, clientType)
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, clientType)
	}
	s.logger(ctx).Info("Registered client",
		"client_id", client.ID,
		"client_type", clientType,
		"scope", sc.String())

	return client, nil
}

// validateRedirectURI requires an absolute http(s) URI without a fragment
func validateRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return fmt.Errorf("fragment is not allowed")
	}
	return nil
}
