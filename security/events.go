package security

// Event type constants for security audit logging.
const (
	// Authorization flow events

	// EventAuthorizationRequestRejected is logged when an authorization request fails validation
	EventAuthorizationRequestRejected = "authorization_request_rejected"

	// EventConsentDenied is logged when the resource owner declines a request
	EventConsentDenied = "consent_denied"

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a consumed code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventRedirectMismatch is logged when a code is redeemed with a different redirect URI.
	// The code is consumed by that attempt.
	EventRedirectMismatch = "redirect_mismatch"

	// Token lifecycle events

	// EventTokenIssued is logged when a token pair is issued for a code
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is exchanged
	EventTokenRefreshed = "token_refreshed"

	// EventScopeEscalationAttempt is logged when a refresh asks for more than the grant
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// Client events

	// EventClientRegistered is logged when a client is registered or replaced
	EventClientRegistered = "client_registered"

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
