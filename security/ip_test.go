package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{name: "direct connection", remoteAddr: "203.0.113.7:5555", want: "203.0.113.7"},
		{name: "headers ignored without trust", remoteAddr: "203.0.113.7:5555", xff: "1.2.3.4", want: "203.0.113.7"},
		{name: "single trusted proxy", remoteAddr: "10.0.0.1:80", xff: "1.2.3.4, 10.0.0.2", trustProxy: true, want: "1.2.3.4"},
		{name: "two trusted proxies", remoteAddr: "10.0.0.1:80", xff: "1.2.3.4, 5.6.7.8, 10.0.0.2", trustProxy: true, proxyCount: 2, want: "1.2.3.4"},
		{name: "spoofed leftmost entry skipped", remoteAddr: "10.0.0.1:80", xff: "6.6.6.6, 1.2.3.4, 10.0.0.2", trustProxy: true, want: "1.2.3.4"},
		{name: "short chain uses leftmost", remoteAddr: "10.0.0.1:80", xff: "1.2.3.4", trustProxy: true, proxyCount: 3, want: "1.2.3.4"},
		{name: "invalid XFF falls back to X-Real-IP", remoteAddr: "10.0.0.1:80", xff: "garbage", xRealIP: "9.9.9.9", trustProxy: true, want: "9.9.9.9"},
		{name: "invalid headers fall back to remote", remoteAddr: "10.0.0.1:80", xRealIP: "nope", trustProxy: true, want: "10.0.0.1"},
		{name: "remote without port", remoteAddr: "10.0.0.1", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(req, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
