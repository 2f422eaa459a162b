// Package scope implements OAuth scope values as space-delimited sets of
// tokens, compared with subset semantics.
package scope

import (
	"slices"
	"strings"
)

// Scope is a normalized set of scope tokens. The zero value is the empty
// scope.
type Scope struct {
	tokens []string // sorted, deduplicated
}

// Parse splits a space-delimited scope string. Duplicate and empty tokens are
// dropped.
func Parse(s string) Scope {
	return New(strings.Fields(s)...)
}

// New builds a scope from individual tokens.
func New(tokens ...string) Scope {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return Scope{tokens: slices.Compact(out)}
}

// String formats the scope as a space-delimited string in sorted order.
func (s Scope) String() string {
	return strings.Join(s.tokens, " ")
}

// IsEmpty reports whether the scope has no tokens.
func (s Scope) IsEmpty() bool {
	return len(s.tokens) == 0
}

// Contains reports whether token is part of the scope.
func (s Scope) Contains(token string) bool {
	_, found := slices.BinarySearch(s.tokens, token)
	return found
}

// SubsetOf reports whether every token of s is also in other. The empty
// scope is a subset of every scope.
func (s Scope) SubsetOf(other Scope) bool {
	for _, t := range s.tokens {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler so scopes serialize as their
// space-delimited form.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(text []byte) error {
	*s = Parse(string(text))
	return nil
}
