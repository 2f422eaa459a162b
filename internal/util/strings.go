// Package util holds small helpers shared by the storage backends and the
// HTTP layer.
package util

// SafeTruncate returns at most maxLen bytes of s. It is used to log a short
// prefix of codes and tokens instead of the secret itself.
//
//	SafeTruncate("code-abcdef123", 8) // "code-abc"
//	SafeTruncate("short", 10)         // "short"
//	SafeTruncate("any", -1)           // ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// LogPrefixLength is the number of characters of a secret that may appear in
// log output.
const LogPrefixLength = 8

// SecretPrefix truncates a secret to LogPrefixLength for logging.
func SecretPrefix(secret string) string {
	return SafeTruncate(secret, LogPrefixLength)
}
