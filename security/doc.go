// Package security holds the protective plumbing shared by the
// authorization server, the resource server and the demo client.
//
//   - Auditor writes security events (codes issued, code reuse, redirect
//     mismatches, scope escalation attempts) as structured slog records.
//     Owner identifiers are hashed before they reach the log.
//   - RateLimiter is a per-identifier token bucket built on
//     golang.org/x/time/rate with LRU eviction. Its Middleware guards the
//     token endpoint keyed by client IP.
//   - Encryptor seals stored records with AES-256-GCM. The kv store uses it
//     for encryption at rest.
//   - RequestIDMiddleware propagates X-Request-ID and stores it in the
//     request context, where the Auditor and handlers pick it up.
//   - SetSecurityHeaders and SetPageSecurityHeaders set response headers for
//     JSON endpoints and HTML pages respectively.
//
// Expiry checks use a small clock skew grace period, see
// DefaultClockSkewGracePeriod.
package security
