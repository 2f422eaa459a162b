package storage

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth-codegrant/scope"
)

// Sentinel errors returned by datasources and domain stores. Callers match
// them with errors.Is; implementations wrap them with additional context.
var (
	// ErrNotFound is returned by a Datasource when a key is absent or expired.
	ErrNotFound = errors.New("not found")

	// ErrClientNotFound indicates that no client is registered under the ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrUnauthorized indicates failed client authentication.
	ErrUnauthorized = errors.New("client authentication failed")

	// ErrCodeNotFound indicates an unknown authorization code.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates an authorization code presented after its expiry.
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrCodeUsed indicates a second redemption of the same authorization code.
	ErrCodeUsed = errors.New("authorization code already used")

	// ErrRedirectMismatch indicates that the redirect URI presented at
	// redemption differs from the one bound to the grant.
	ErrRedirectMismatch = errors.New("redirect uri mismatch")

	// ErrTokenNotFound indicates an unknown, revoked or rotated token.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates a token presented after its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrScopeExceeded indicates a refresh that asked for more than the
	// original grant.
	ErrScopeExceeded = errors.New("requested scope exceeds granted scope")
)

// Datasource is the capability every storage backend provides. Values are
// opaque byte slices; the domain stores encode their records themselves.
//
// TestAndSet is the only primitive the domain stores rely on for atomicity:
// it must replace the value of key only if the stored value is byte-for-byte
// equal to expected, and it must do so as a single step with respect to
// every other operation on the same key.
type Datasource interface {
	// Lookup returns the value stored under key, or ErrNotFound.
	Lookup(ctx context.Context, key string) ([]byte, error)

	// Insert stores value under key, overwriting any existing value.
	// A ttl of zero stores the value without expiry.
	Insert(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// TestAndSet atomically swaps the value of key from expected to value and
	// reports whether the swap happened. The existing expiry is preserved.
	// It returns false without error when key is absent or holds a different
	// value.
	TestAndSet(ctx context.Context, key string, expected, value []byte) (bool, error)
}

// ClientRegistry stores registered clients and authenticates them.
type ClientRegistry interface {
	// RegisterClient stores a client. Registering an existing ID overwrites it.
	RegisterClient(ctx context.Context, client *Client) error

	// LookupClient returns the client registered under clientID or ErrClientNotFound.
	LookupClient(ctx context.Context, clientID string) (*Client, error)

	// AuthenticateClient verifies the presented secret. Confidential clients
	// must present their registered secret; public clients must present none.
	// Any failure, including an unknown client, returns ErrUnauthorized.
	AuthenticateClient(ctx context.Context, clientID, secret string) (*Client, error)
}

// CodeStore issues and redeems single-use authorization codes.
type CodeStore interface {
	// IssueCode mints a fresh code bound to grant that expires after ttl.
	IssueCode(ctx context.Context, grant *Grant, ttl time.Duration) (string, error)

	// RedeemCode consumes code and returns its grant. Exactly one of any
	// number of concurrent redemptions succeeds. A redirect URI mismatch
	// consumes the code as well.
	RedeemCode(ctx context.Context, code, redirectURI string) (*Grant, error)
}

// TokenStore issues, validates and rotates token pairs.
type TokenStore interface {
	// IssueTokens allocates an access token, and a refresh token when the
	// policy asks for one, for grant.
	IssueTokens(ctx context.Context, grant *Grant, policy TokenPolicy) (*TokenPair, error)

	// ValidateAccessToken returns the record behind an access token.
	ValidateAccessToken(ctx context.Context, accessToken string) (*TokenRecord, error)

	// RefreshTokens exchanges a refresh token issued to clientID for a new
	// pair. The requested scope must be a subset of the original grant; an
	// empty scope keeps it. When the policy rotates refresh tokens, the old
	// token is invalidated in the same atomic step that claims it. A token
	// presented by another client is reported as ErrTokenNotFound.
	RefreshTokens(ctx context.Context, clientID, refreshToken string, requested scope.Scope, policy TokenPolicy) (*TokenPair, error)
}

// Client is a registered OAuth client.
type Client struct {
	ID          string      `json:"client_id"`
	Name        string      `json:"client_name,omitempty"`
	SecretHash  string      `json:"secret_hash,omitempty"` // bcrypt hash; empty for public clients
	RedirectURI string      `json:"redirect_uri"`
	Scope       scope.Scope `json:"scope"`
	CreatedAt   time.Time   `json:"created_at"`
}

// IsConfidential reports whether the client authenticates with a secret.
func (c *Client) IsConfidential() bool {
	return c.SecretHash != ""
}

// Grant is the authorized combination of client, owner, scope and redirect
// target. It is never mutated after creation.
type Grant struct {
	ID          string      `json:"id"`
	ClientID    string      `json:"client_id"`
	RedirectURI string      `json:"redirect_uri"`
	Scope       scope.Scope `json:"scope"`
	OwnerID     string      `json:"owner_id"`
	IssuedAt    time.Time   `json:"issued_at"`
}

// CodeRecord is the stored form of an authorization code.
type CodeRecord struct {
	Grant     Grant     `json:"grant"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// TokenRecord is the stored form of an access token.
type TokenRecord struct {
	Grant        Grant       `json:"grant"`
	Scope        scope.Scope `json:"scope"`
	ExpiresAt    time.Time   `json:"expires_at"`
	RefreshToken string      `json:"refresh_token,omitempty"`
}

// RefreshRecord is the stored form of a refresh token. Its grant keeps the
// scope of the original authorization across rotations, so a narrowed
// refresh never lowers the ceiling for the next one.
type RefreshRecord struct {
	Grant       Grant     `json:"grant"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Revoked     bool      `json:"revoked"`
}

// TokenPair is the result of issuing or refreshing tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string // empty when no refresh token was issued
	Scope        scope.Scope
	ExpiresAt    time.Time
	Rotated      bool
	Grant        Grant
}

// TokenPolicy controls token lifetimes and refresh-token handling.
type TokenPolicy struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration // zero means refresh tokens do not expire

	IssueRefreshToken  bool
	RotateRefreshToken bool
}
