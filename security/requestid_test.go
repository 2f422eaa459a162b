package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
	if len(id1) != 22 {
		t.Errorf("request ID length = %d, want 22", len(id1))
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated ID %q does not pass validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID(empty) = %q", got)
	}
	ctx := WithRequestID(context.Background(), "abc")
	if got := GetRequestID(ctx); got != "abc" {
		t.Errorf("GetRequestID() = %q, want abc", got)
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithRequestID(WithRequestID(context.Background(), "req-1"), logger).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Errorf("log = %q, want request_id", buf.String())
	}

	if LoggerWithRequestID(context.Background(), logger) != logger {
		t.Error("logger without request ID should be returned unchanged")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		existingHeader string
		expectNew      bool
	}{
		{name: "generates new ID when not present", existingHeader: "", expectNew: true},
		{name: "preserves valid upstream ID", existingHeader: "upstream-request-id-xyz", expectNew: false},
		{name: "rejects header injection", existingHeader: "id\r\nX-Injected: evil", expectNew: true},
		{name: "rejects spaces", existingHeader: "id with spaces", expectNew: true},
		{name: "rejects overlong ID", existingHeader: strings.Repeat("a", 129), expectNew: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.existingHeader != "" {
				req.Header[RequestIDHeader] = []string{tt.existingHeader}
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got != seen {
				t.Errorf("response ID %q differs from context ID %q", got, seen)
			}
			if tt.expectNew && got == tt.existingHeader {
				t.Errorf("expected a new ID, got upstream %q", got)
			}
			if !tt.expectNew && got != tt.existingHeader {
				t.Errorf("ID = %q, want upstream %q", got, tt.existingHeader)
			}
		})
	}
}
