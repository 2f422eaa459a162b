package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetMetrics counts every audit event in oauth.audit.events.total.
func (a *Auditor) SetMetrics(m *instrumentation.Metrics) {
	if a != nil {
		a.metrics = m
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	OwnerID   string
	ClientID  string
	GrantID   string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. The owner identifier is hashed; the
// request ID is taken from ctx when present.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	attrs := []any{
		"event_type", event.Type,
		"owner_id_hash", hashForLogging(event.OwnerID),
		"client_id", event.ClientID,
		"timestamp", event.Timestamp,
	}
	if event.GrantID != "" {
		attrs = append(attrs, "grant_id", event.GrantID)
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip_address", event.IPAddress)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	a.logger.InfoContext(ctx, "security_audit", attrs...)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(ctx, event.Type)
	}
}

// LogAuthorizationRejected logs an authorization request that failed validation
func (a *Auditor) LogAuthorizationRejected(ctx context.Context, clientID, reason string) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthorizationRequestRejected,
		ClientID: clientID,
		Details:  map[string]any{"reason": reason},
	})
}

// LogConsentDenied logs a declined consent
func (a *Auditor) LogConsentDenied(ctx context.Context, clientID, scope string) {
	a.LogEvent(ctx, Event{
		Type:     EventConsentDenied,
		ClientID: clientID,
		Details:  map[string]any{"scope": scope},
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(ctx context.Context, ownerID, clientID, grantID string) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthorizationCodeIssued,
		OwnerID:  ownerID,
		ClientID: clientID,
		GrantID:  grantID,
	})
}

// LogCodeReuse logs a second redemption of a consumed code
func (a *Auditor) LogCodeReuse(ctx context.Context, clientID, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthorizationCodeReuseDetected,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogRedirectMismatch logs a redemption with a redirect URI other than the bound one
func (a *Auditor) LogRedirectMismatch(ctx context.Context, clientID, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventRedirectMismatch,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs when a token pair is issued
func (a *Auditor) LogTokenIssued(ctx context.Context, ownerID, clientID, grantID, ipAddress, scope string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		OwnerID:   ownerID,
		ClientID:  clientID,
		GrantID:   grantID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(ctx context.Context, ownerID, clientID, grantID, ipAddress string, rotated bool) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenRefreshed,
		OwnerID:   ownerID,
		ClientID:  clientID,
		GrantID:   grantID,
		IPAddress: ipAddress,
		Details:   map[string]any{"rotated": rotated},
	})
}

// LogScopeEscalation logs a refresh that asked for more than the grant
func (a *Auditor) LogScopeEscalation(ctx context.Context, clientID, ipAddress, requested string) {
	a.LogEvent(ctx, Event{
		Type:      EventScopeEscalationAttempt,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"requested_scope": requested},
	})
}

// LogAuthFailure logs a client authentication failure
func (a *Auditor) LogAuthFailure(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, endpoint string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details:   map[string]any{"endpoint": endpoint},
	})
}

// LogClientRegistered logs when a client is registered
func (a *Auditor) LogClientRegistered(ctx context.Context, clientID, clientType string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientRegistered,
		ClientID: clientID,
		Details:  map[string]any{"client_type": clientType},
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
