package oauth

import (
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/server"
)

// Default HTTP-layer settings.
const (
	DefaultAuthorizePath = "/authorize"
	DefaultTokenPath     = "/token"
	DefaultResourcePath  = "/resource"
	DefaultResourceScope = "default-scope"

	// ResourceData is the payload served by the protected resource.
	ResourceData = "Super secret resource data"
)

// Config holds the HTTP handler configuration.
// Structured using composition like the server package configuration.
type Config struct {
	// Issuer is the public base URL of the authorization server.
	// It is advertised in the metadata document and decides whether HSTS is sent.
	Issuer string

	// ConsentPath is where the consent page posts its decision.
	// Default: /consent
	ConsentPath string

	// Rate limiting configuration for the token endpoint
	RateLimit RateLimitConfig

	// Proxy settings used to find the client IP
	Proxy ProxyConfig
}

// RateLimitConfig holds token endpoint rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per client IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per client IP.
	// Default: twice the rate
	Burst int

	// MaxEntries bounds the number of tracked IPs.
	// Default: security.DefaultRateLimiterMaxEntries
	MaxEntries int
}

// ProxyConfig controls how the client IP is derived for rate limiting and auditing
type ProxyConfig struct {
	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// WARNING: Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	// Default: 1
	TrustedProxyCount int
}

func (c *Config) applyDefaults() {
	if c.ConsentPath == "" {
		c.ConsentPath = server.DefaultConsentPath
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 2 * c.RateLimit.Rate
	}
	if c.RateLimit.MaxEntries == 0 {
		c.RateLimit.MaxEntries = security.DefaultRateLimiterMaxEntries
	}
	if c.Proxy.TrustedProxyCount == 0 {
		c.Proxy.TrustedProxyCount = 1
	}
}
