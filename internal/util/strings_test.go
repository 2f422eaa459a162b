package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than limit", input: "code", maxLen: 8, want: "code"},
		{name: "exact length", input: "12345678", maxLen: 8, want: "12345678"},
		{name: "longer than limit", input: "refresh-token-value", maxLen: 8, want: "refresh-"},
		{name: "empty input", input: "", maxLen: 8, want: ""},
		{name: "zero limit", input: "token", maxLen: 0, want: ""},
		{name: "negative limit", input: "token", maxLen: -3, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSecretPrefix(t *testing.T) {
	if got := SecretPrefix("abcdefghijklmnop"); got != "abcdefgh" {
		t.Errorf("SecretPrefix() = %q, want %q", got, "abcdefgh")
	}
	if got := SecretPrefix("abc"); got != "abc" {
		t.Errorf("SecretPrefix() = %q, want %q", got, "abc")
	}
}
