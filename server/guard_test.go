package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/oauth-codegrant/internal/testutil"
	"github.com/giantswarm/oauth-codegrant/scope"
)

func TestServer_Guard(t *testing.T) {
	srv, _, _ := setupFlowTestServer(t, nil)
	ctx := context.Background()

	resp, err := srv.Exchange(ctx, codeRequest(issueTestCode(t, srv, testutil.TestScope)))
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	tests := []struct {
		name     string
		bearer   string
		required scope.Scope
		wantErr  bool
	}{
		{"valid token", resp.AccessToken, scope.Parse(testutil.TestScope), false},
		{"no scope required", resp.AccessToken, scope.Scope{}, false},
		{"missing token", "", scope.Parse(testutil.TestScope), true},
		{"unknown token", "not-a-token", scope.Parse(testutil.TestScope), true},
		{"refresh token as bearer", resp.RefreshToken, scope.Parse(testutil.TestScope), true},
		{"insufficient scope", resp.AccessToken, scope.Parse("extra-scope"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := srv.Guard(ctx, tt.bearer, tt.required)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("Guard() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Guard() error = %v", err)
			}
			if rec.Grant.OwnerID != DefaultOwnerID {
				t.Errorf("OwnerID = %q, want %q", rec.Grant.OwnerID, DefaultOwnerID)
			}
		})
	}
}

func TestServer_Guard_Expired(t *testing.T) {
	srv, _, clock := setupFlowTestServer(t, &Config{AccessTokenTTL: time.Minute})
	ctx := context.Background()

	resp, err := srv.Exchange(ctx, codeRequest(issueTestCode(t, srv, testutil.TestScope)))
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	clock.Advance(time.Minute + DefaultClockSkewGracePeriod + time.Second)
	if _, err := srv.Guard(ctx, resp.AccessToken, scope.Parse(testutil.TestScope)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Guard() error = %v, want ErrUnauthorized", err)
	}
}
