package security

import "time"

// DefaultClockSkewGracePeriod is the default grace period applied when
// checking code and token expiry. It absorbs small clock differences between
// the hosts that issue and redeem credentials.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpiredAt reports whether expiresAt plus gracePeriod lies before now.
// A zero expiresAt never expires.
func IsExpiredAt(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}
