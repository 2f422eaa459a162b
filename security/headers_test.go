package security

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		wantHSTS  bool
	}{
		{name: "HTTPS server", serverURL: "https://example.com", wantHSTS: true},
		{name: "HTTP server", serverURL: "http://localhost:8081", wantHSTS: false},
		{name: "invalid URL", serverURL: "://invalid", wantHSTS: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.serverURL)

			want := map[string]string{
				"X-Frame-Options":         "DENY",
				"X-Content-Type-Options":  "nosniff",
				"Referrer-Policy":         "no-referrer",
				"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
				"Pragma":                  "no-cache",
			}
			for header, value := range want {
				if got := w.Header().Get(header); got != value {
					t.Errorf("%s = %q, want %q", header, got, value)
				}
			}
			if !strings.Contains(w.Header().Get("Cache-Control"), "no-store") {
				t.Errorf("Cache-Control = %q, want no-store", w.Header().Get("Cache-Control"))
			}
			if got := w.Header().Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", got, tt.wantHSTS)
			}
		})
	}
}

func TestSetPageSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetPageSecurityHeaders(w, "http://localhost:8080")

	csp := w.Header().Get("Content-Security-Policy")
	for _, directive := range []string{"form-action 'self'", "style-src 'unsafe-inline'", "frame-ancestors 'none'"} {
		if !strings.Contains(csp, directive) {
			t.Errorf("CSP %q missing %q", csp, directive)
		}
	}
	if strings.Contains(csp, "script-src") {
		t.Errorf("pages must not allow scripts, CSP = %q", csp)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options missing")
	}
}

func TestSetPageSecurityHeaders_FormTargets(t *testing.T) {
	w := httptest.NewRecorder()
	SetPageSecurityHeaders(w, "http://localhost:8081", "http://localhost:8080/redirect?x=1", "not a url")

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "form-action 'self' http://localhost:8080;") {
		t.Errorf("CSP %q does not allow the redirect origin", csp)
	}
	if strings.Contains(csp, "not a url") {
		t.Errorf("CSP %q contains an invalid target", csp)
	}
}
