// Package kv implements the client registry, the code store and the token
// store on top of any storage.Datasource.
//
// Records are JSON documents, optionally sealed with a security.Encryptor.
// Every state transition that must happen at most once (consuming a code,
// revoking a rotated refresh token) is a single Datasource.TestAndSet from
// the exact bytes that were read, so the store needs no lock of its own and
// the backends only lock per key.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

const (
	clientKeyPrefix  = "client:"
	codeKeyPrefix    = "code:"
	accessKeyPrefix  = "access:"
	refreshKeyPrefix = "refresh:"

	// maxCASAttempts bounds the read-modify-write retries of a non-rotating
	// refresh that lost a race against another refresh of the same token.
	maxCASAttempts = 3

	// dummySecretHash is compared against when the client is unknown so that
	// authentication takes the same time either way. bcrypt hash of "test".
	dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// Store implements storage.ClientRegistry, storage.CodeStore and
// storage.TokenStore over a Datasource. Configure it with the Set methods
// before first use.
type Store struct {
	ds      storage.Datasource
	backend string

	logger    *slog.Logger
	encryptor *security.Encryptor
	now       func() time.Time
	clockSkew time.Duration

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var (
	_ storage.ClientRegistry = (*Store)(nil)
	_ storage.CodeStore      = (*Store)(nil)
	_ storage.TokenStore     = (*Store)(nil)
)

// New returns a Store over ds. backend names the datasource in spans.
func New(ds storage.Datasource, backend string) *Store {
	return &Store{
		ds:        ds,
		backend:   backend,
		logger:    slog.Default(),
		now:       time.Now,
		clockSkew: security.DefaultClockSkewGracePeriod,
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables encryption at rest for every record written from now on.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Record encryption at rest enabled", "backend", s.backend)
	}
}

// SetClock replaces the time source used for expiry decisions.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetClockSkewGracePeriod sets how long past its expiry a code or token is
// still accepted.
func (s *Store) SetClockSkewGracePeriod(d time.Duration) {
	s.clockSkew = d
}

// SetInstrumentation enables tracing and metrics for storage operations.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// ClientRegistry
// ============================================================

// RegisterClient stores client under its ID, replacing any previous registration.
func (s *Store) RegisterClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "register_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "register_client", &err, time.Now())

	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID is required")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = s.now()
	}

	data, err := s.encode(client)
	if err != nil {
		return err
	}
	if err = s.ds.Insert(ctx, clientKeyPrefix+client.ID, data, 0); err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}

	s.logger.Debug("Registered client", "client_id", client.ID, "confidential", client.IsConfidential())
	return nil
}

// LookupClient returns the client registered under clientID.
func (s *Store) LookupClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "lookup_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "lookup_client", &err, time.Now())

	raw, err := s.ds.Lookup(ctx, clientKeyPrefix+clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	client = &storage.Client{}
	if err = s.decode(raw, client); err != nil {
		return nil, err
	}
	return client, nil
}

// AuthenticateClient checks the presented secret against the registration.
// A bcrypt comparison runs on every path, including unknown clients.
func (s *Store) AuthenticateClient(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, lookupErr := s.LookupClient(ctx, clientID)

	hash := dummySecretHash
	if lookupErr == nil && client.IsConfidential() {
		hash = client.SecretHash
	}
	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))

	switch {
	case errors.Is(lookupErr, storage.ErrClientNotFound):
		return nil, storage.ErrUnauthorized
	case lookupErr != nil:
		return nil, lookupErr
	case client.IsConfidential() && compareErr != nil:
		return nil, storage.ErrUnauthorized
	case !client.IsConfidential() && secret != "":
		return nil, storage.ErrUnauthorized
	}
	return client, nil
}

// ============================================================
// CodeStore
// ============================================================

// IssueCode mints a code for grant. The grant gets an ID and issue time if it
// has none; the caller's value is not modified.
func (s *Store) IssueCode(ctx context.Context, grant *storage.Grant, ttl time.Duration) (code string, err error) {
	ctx, span := s.startStorageSpan(ctx, "issue_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "issue_code", &err, time.Now())

	if grant == nil {
		return "", fmt.Errorf("grant is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("code ttl must be positive")
	}

	rec := storage.CodeRecord{
		Grant:     s.completeGrant(grant),
		ExpiresAt: s.now().Add(ttl),
	}
	data, err := s.encode(rec)
	if err != nil {
		return "", err
	}

	code = oauth2.GenerateVerifier()
	// Used records outlive their expiry by the grace period so that a late
	// second redemption still reports reuse.
	if err = s.ds.Insert(ctx, codeKeyPrefix+code, data, ttl+s.clockSkew); err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}

	instrumentation.AddGrantAttributes(span, rec.Grant.ID, rec.Grant.ClientID, "", rec.Grant.Scope.String())
	s.logger.Debug("Issued authorization code",
		"code_prefix", util.SecretPrefix(code),
		"client_id", rec.Grant.ClientID,
		"grant_id", rec.Grant.ID)
	return code, nil
}

// RedeemCode consumes code. Exactly one caller wins the TestAndSet from the
// unused record; everyone else sees ErrCodeUsed. On ErrCodeUsed the grant is
// returned alongside the error so callers can audit the reuse. A redirect
// URI mismatch is checked after the code is consumed, so a mismatching
// attempt burns the code.
func (s *Store) RedeemCode(ctx context.Context, code, redirectURI string) (grant *storage.Grant, err error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "redeem_code", &err, time.Now())

	key := codeKeyPrefix + code
	raw, err := s.ds.Lookup(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load authorization code: %w", err)
	}

	var rec storage.CodeRecord
	if err = s.decode(raw, &rec); err != nil {
		return nil, err
	}

	if rec.Used {
		span.SetAttributes(attribute.Bool(instrumentation.AttrCodeReuse, true))
		return &rec.Grant, storage.ErrCodeUsed
	}

	if security.IsExpiredAt(rec.ExpiresAt, s.now(), s.clockSkew) {
		if rmErr := s.ds.Remove(ctx, key); rmErr != nil {
			s.logger.Warn("Failed to remove expired authorization code", "error", rmErr)
		}
		return nil, storage.ErrCodeExpired
	}

	consumed := rec
	consumed.Used = true
	next, err := s.encode(consumed)
	if err != nil {
		return nil, err
	}

	swapped, err := s.ds.TestAndSet(ctx, key, raw, next)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !swapped {
		span.SetAttributes(attribute.Bool(instrumentation.AttrCodeReuse, true))
		return &rec.Grant, storage.ErrCodeUsed
	}

	if rec.Grant.RedirectURI != redirectURI {
		return nil, storage.ErrRedirectMismatch
	}

	instrumentation.AddGrantAttributes(span, rec.Grant.ID, rec.Grant.ClientID, "", "")
	s.logger.Debug("Redeemed authorization code",
		"code_prefix", util.SecretPrefix(code),
		"grant_id", rec.Grant.ID)
	return &rec.Grant, nil
}

// ============================================================
// TokenStore
// ============================================================

// IssueTokens allocates a token pair for grant with the grant's full scope.
func (s *Store) IssueTokens(ctx context.Context, grant *storage.Grant, policy storage.TokenPolicy) (pair *storage.TokenPair, err error) {
	ctx, span := s.startStorageSpan(ctx, "issue_tokens")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "issue_tokens", &err, time.Now())

	if grant == nil {
		return nil, fmt.Errorf("grant is required")
	}
	g := s.completeGrant(grant)

	var refreshToken string
	if policy.IssueRefreshToken {
		refreshToken = oauth2.GenerateVerifier()
	}
	pair, err = s.storeAccessToken(ctx, g, g.Scope, refreshToken, policy)
	if err != nil {
		return nil, err
	}

	if refreshToken != "" {
		if err = s.storeRefreshToken(ctx, refreshToken, g, pair.AccessToken, policy); err != nil {
			return nil, err
		}
	}

	instrumentation.AddGrantAttributes(span, g.ID, g.ClientID, "", g.Scope.String())
	return pair, nil
}

// ValidateAccessToken returns the record behind accessToken if it exists and
// has not expired.
func (s *Store) ValidateAccessToken(ctx context.Context, accessToken string) (rec *storage.TokenRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "validate_access_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "validate_access_token", &err, time.Now())

	raw, err := s.ds.Lookup(ctx, accessKeyPrefix+accessToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}

	rec = &storage.TokenRecord{}
	if err = s.decode(raw, rec); err != nil {
		return nil, err
	}
	if security.IsExpiredAt(rec.ExpiresAt, s.now(), s.clockSkew) {
		return nil, storage.ErrTokenExpired
	}
	return rec, nil
}

// RefreshTokens exchanges refreshToken for a new access token. With rotation
// the refresh record is flipped to revoked by TestAndSet before anything is
// issued, so of two concurrent refreshes only one gets a pair. Without
// rotation the record is updated in place to point at the new access token.
func (s *Store) RefreshTokens(ctx context.Context, clientID, refreshToken string, requested scope.Scope, policy storage.TokenPolicy) (pair *storage.TokenPair, err error) {
	ctx, span := s.startStorageSpan(ctx, "refresh_tokens")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "refresh_tokens", &err, time.Now())

	key := refreshKeyPrefix + refreshToken

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		raw, err := s.ds.Lookup(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrTokenNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load refresh token: %w", err)
		}

		var rec storage.RefreshRecord
		if err = s.decode(raw, &rec); err != nil {
			return nil, err
		}
		if rec.Revoked || rec.Grant.ClientID != clientID {
			return nil, storage.ErrTokenNotFound
		}
		if security.IsExpiredAt(rec.ExpiresAt, s.now(), s.clockSkew) {
			return nil, storage.ErrTokenExpired
		}

		effective := requested
		if effective.IsEmpty() {
			effective = rec.Grant.Scope
		}
		if !effective.SubsetOf(rec.Grant.Scope) {
			return nil, fmt.Errorf("%w: requested %q, granted %q", storage.ErrScopeExceeded, effective, rec.Grant.Scope)
		}

		if policy.RotateRefreshToken {
			pair, err = s.rotate(ctx, key, raw, rec, effective, policy)
		} else {
			pair, err = s.reissueAccess(ctx, refreshToken, key, raw, rec, effective, policy)
		}
		if errors.Is(err, errLostRace) {
			continue
		}
		if err != nil {
			return nil, err
		}

		instrumentation.AddGrantAttributes(span, rec.Grant.ID, rec.Grant.ClientID, "", effective.String())
		span.SetAttributes(attribute.Bool(instrumentation.AttrTokenRotated, pair.Rotated))
		return pair, nil
	}

	return nil, fmt.Errorf("%w: refresh token updated concurrently", storage.ErrTokenNotFound)
}

var errLostRace = errors.New("lost test-and-set race")

func (s *Store) rotate(ctx context.Context, key string, raw []byte, rec storage.RefreshRecord, effective scope.Scope, policy storage.TokenPolicy) (*storage.TokenPair, error) {
	revoked := rec
	revoked.Revoked = true
	next, err := s.encode(revoked)
	if err != nil {
		return nil, err
	}

	swapped, err := s.ds.TestAndSet(ctx, key, raw, next)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !swapped {
		// Re-reading will find the record revoked.
		return nil, errLostRace
	}

	s.removeAccessToken(ctx, rec.AccessToken)

	newRefresh := oauth2.GenerateVerifier()
	pair, err := s.storeAccessToken(ctx, rec.Grant, effective, newRefresh, policy)
	if err != nil {
		return nil, err
	}
	if err := s.storeRefreshToken(ctx, newRefresh, rec.Grant, pair.AccessToken, policy); err != nil {
		return nil, err
	}
	pair.Rotated = true

	s.logger.Debug("Rotated refresh token",
		"grant_id", rec.Grant.ID,
		"new_prefix", util.SecretPrefix(newRefresh))
	return pair, nil
}

func (s *Store) reissueAccess(ctx context.Context, refreshToken, key string, raw []byte, rec storage.RefreshRecord, effective scope.Scope, policy storage.TokenPolicy) (*storage.TokenPair, error) {
	accessToken := oauth2.GenerateVerifier()

	updated := rec
	updated.AccessToken = accessToken
	next, err := s.encode(updated)
	if err != nil {
		return nil, err
	}

	swapped, err := s.ds.TestAndSet(ctx, key, raw, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update refresh token: %w", err)
	}
	if !swapped {
		return nil, errLostRace
	}

	s.removeAccessToken(ctx, rec.AccessToken)
	return s.storeAccessTokenValue(ctx, accessToken, rec.Grant, effective, refreshToken, policy)
}

// ============================================================
// Helpers
// ============================================================

func (s *Store) storeAccessToken(ctx context.Context, grant storage.Grant, sc scope.Scope, refreshToken string, policy storage.TokenPolicy) (*storage.TokenPair, error) {
	return s.storeAccessTokenValue(ctx, oauth2.GenerateVerifier(), grant, sc, refreshToken, policy)
}

func (s *Store) storeAccessTokenValue(ctx context.Context, accessToken string, grant storage.Grant, sc scope.Scope, refreshToken string, policy storage.TokenPolicy) (*storage.TokenPair, error) {
	if policy.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive")
	}

	rec := storage.TokenRecord{
		Grant:        grant,
		Scope:        sc,
		ExpiresAt:    s.now().Add(policy.AccessTokenTTL),
		RefreshToken: refreshToken,
	}
	data, err := s.encode(rec)
	if err != nil {
		return nil, err
	}
	if err := s.ds.Insert(ctx, accessKeyPrefix+accessToken, data, policy.AccessTokenTTL+s.clockSkew); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	return &storage.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scope:        sc,
		ExpiresAt:    rec.ExpiresAt,
		Grant:        grant,
	}, nil
}

func (s *Store) storeRefreshToken(ctx context.Context, refreshToken string, grant storage.Grant, accessToken string, policy storage.TokenPolicy) error {
	rec := storage.RefreshRecord{
		Grant:       grant,
		AccessToken: accessToken,
	}
	var ttl time.Duration
	if policy.RefreshTokenTTL > 0 {
		rec.ExpiresAt = s.now().Add(policy.RefreshTokenTTL)
		ttl = policy.RefreshTokenTTL + s.clockSkew
	}

	data, err := s.encode(rec)
	if err != nil {
		return err
	}
	if err := s.ds.Insert(ctx, refreshKeyPrefix+refreshToken, data, ttl); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *Store) removeAccessToken(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := s.ds.Remove(ctx, accessKeyPrefix+accessToken); err != nil {
		s.logger.Warn("Failed to remove superseded access token",
			"token_prefix", util.SecretPrefix(accessToken),
			"error", err)
	}
}

func (s *Store) completeGrant(grant *storage.Grant) storage.Grant {
	g := *grant
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.IssuedAt.IsZero() {
		g.IssuedAt = s.now()
	}
	return g
}

func (s *Store) encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	sealed, err := s.encryptor.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt record: %w", err)
	}
	return sealed, nil
}

func (s *Store) decode(raw []byte, v any) error {
	data, err := s.encryptor.Open(raw)
	if err != nil {
		return fmt.Errorf("failed to decrypt record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// startStorageSpan starts a new span for a storage operation. Without
// instrumentation the span is a noop child, so ending it never touches the
// caller's span.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, s.backend)
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets
// span status. errp points at the operation's named error result.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, errp *error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	result := "success"
	if err := *errp; err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
