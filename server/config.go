package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-codegrant/storage"
)

// Default lifetimes applied to zero-valued Config fields.
const (
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultAccessTokenTTL       = time.Hour
	DefaultRefreshTokenTTL      = 30 * 24 * time.Hour
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// Config holds authorization server configuration.
// The zero value is valid and secure; New fills in the defaults.
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid
	// Default: 10 minutes
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid
	// Default: 1 hour
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens are valid.
	// A negative value issues refresh tokens that never expire.
	// Default: 30 days
	RefreshTokenTTL time.Duration

	// DisableRefreshTokens stops the token endpoint from issuing refresh tokens
	// Default: false
	DisableRefreshTokens bool

	// DisableRefreshTokenRotation keeps the same refresh token across refreshes
	// and replaces only the access token.
	// WARNING: a leaked refresh token then stays usable until it expires
	// Default: false (rotation enabled)
	DisableRefreshTokenRotation bool

	// ClockSkewGracePeriod is how long past their expiry codes and tokens
	// are still accepted
	// Default: 5 seconds
	ClockSkewGracePeriod time.Duration

	// BcryptCost is the cost used to hash client secrets at registration
	// Default: bcrypt.DefaultCost
	BcryptCost int
}

// Policy returns the token policy handed to the token store.
func (c *Config) Policy() storage.TokenPolicy {
	refreshTTL := c.RefreshTokenTTL
	if refreshTTL < 0 {
		refreshTTL = 0
	}
	return storage.TokenPolicy{
		AccessTokenTTL:     c.AccessTokenTTL,
		RefreshTokenTTL:    refreshTTL,
		IssueRefreshToken:  !c.DisableRefreshTokens,
		RotateRefreshToken: !c.DisableRefreshTokenRotation,
	}
}

// applyDefaults fills zero-valued fields and logs insecure settings
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = DefaultClockSkewGracePeriod
	}

	logSecurityWarnings(config, logger)
	return config
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.DisableRefreshTokenRotation && !config.DisableRefreshTokens {
		logger.Warn("SECURITY WARNING: Refresh token rotation is DISABLED",
			"risk", "Stolen refresh tokens can be used until they expire",
			"recommendation", "Leave DisableRefreshTokenRotation unset")
	}
	if config.RefreshTokenTTL < 0 && !config.DisableRefreshTokens {
		logger.Warn("SECURITY WARNING: Refresh tokens never expire",
			"recommendation", "Set a positive RefreshTokenTTL")
	}
	if config.AuthorizationCodeTTL > DefaultAuthorizationCodeTTL {
		logger.Warn("Authorization code lifetime is longer than recommended",
			"ttl", config.AuthorizationCodeTTL,
			"recommended_max", DefaultAuthorizationCodeTTL)
	}
}
