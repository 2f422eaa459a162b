package security

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), tt.enabled)

			auditor.LogEvent(context.Background(), Event{
				Type:      "test_event",
				OwnerID:   "owner-123",
				ClientID:  "client-456",
				IPAddress: "192.168.1.1",
				Details:   map[string]any{"key": "value"},
			})

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Fatalf("logged = %v, want %v", got, tt.wantLog)
			}
			if !tt.wantLog {
				return
			}
			out := buf.String()
			if strings.Contains(out, "owner-123") {
				t.Error("owner ID must be hashed, found plain value in log")
			}
			if !strings.Contains(out, "client-456") {
				t.Error("client ID missing from log")
			}
		})
	}
}

func TestAuditor_LogEventIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	ctx := WithRequestID(context.Background(), "req-abc")
	auditor.LogCodeReuse(ctx, "client-1", "10.0.0.1")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-abc") {
		t.Errorf("expected request_id in log, got %q", out)
	}
	if !strings.Contains(out, EventAuthorizationCodeReuseDetected) {
		t.Errorf("expected event type in log, got %q", out)
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogConsentDenied(context.Background(), "client", "default-scope")
}

func TestAuditor_HelperEventTypes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{"authorization rejected", func(a *Auditor) { a.LogAuthorizationRejected(ctx, "c", "bad redirect") }, EventAuthorizationRequestRejected},
		{"consent denied", func(a *Auditor) { a.LogConsentDenied(ctx, "c", "default-scope") }, EventConsentDenied},
		{"code issued", func(a *Auditor) { a.LogCodeIssued(ctx, "o", "c", "g") }, EventAuthorizationCodeIssued},
		{"redirect mismatch", func(a *Auditor) { a.LogRedirectMismatch(ctx, "c", "") }, EventRedirectMismatch},
		{"token issued", func(a *Auditor) { a.LogTokenIssued(ctx, "o", "c", "g", "", "default-scope") }, EventTokenIssued},
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed(ctx, "o", "c", "g", "", true) }, EventTokenRefreshed},
		{"scope escalation", func(a *Auditor) { a.LogScopeEscalation(ctx, "c", "", "admin") }, EventScopeEscalationAttempt},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure(ctx, "c", "", "bad secret") }, EventAuthFailure},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded(ctx, "10.0.0.1", "/token") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered(ctx, "c", "confidential") }, EventClientRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true))
			if !strings.Contains(buf.String(), "event_type="+tt.want) {
				t.Errorf("log %q does not contain event_type=%s", buf.String(), tt.want)
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q", got)
	}
	a := hashForLogging("owner")
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a != hashForLogging("owner") {
		t.Error("hash should be deterministic")
	}
}
