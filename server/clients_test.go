package server

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/oauth-codegrant/internal/testutil"
)

func TestServer_RegisterClient(t *testing.T) {
	srv, store, _ := setupFlowTestServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name             string
		reg              ClientRegistration
		wantErr          error
		wantConfidential bool
	}{
		{
			name:             "confidential client",
			reg:              ClientRegistration{ID: "c1", Secret: "s3cret", RedirectURI: "https://app.example.com/cb", Scope: "read"},
			wantConfidential: true,
		},
		{
			name: "public client",
			reg:  ClientRegistration{ID: "c2", RedirectURI: "http://localhost:9000/cb", Scope: "read write"},
		},
		{
			name:    "missing id",
			reg:     ClientRegistration{RedirectURI: "https://app.example.com/cb", Scope: "read"},
			wantErr: ErrBadRequest,
		},
		{
			name:    "relative redirect",
			reg:     ClientRegistration{ID: "c3", RedirectURI: "/cb", Scope: "read"},
			wantErr: ErrBadRequest,
		},
		{
			name:    "custom scheme redirect",
			reg:     ClientRegistration{ID: "c4", RedirectURI: "javascript:alert(1)", Scope: "read"},
			wantErr: ErrBadRequest,
		},
		{
			name:    "redirect with fragment",
			reg:     ClientRegistration{ID: "c5", RedirectURI: "https://app.example.com/cb#frag", Scope: "read"},
			wantErr: ErrBadRequest,
		},
		{
			name:    "empty scope",
			reg:     ClientRegistration{ID: "c6", RedirectURI: "https://app.example.com/cb", Scope: "  "},
			wantErr: ErrBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := srv.RegisterClient(ctx, tt.reg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RegisterClient() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RegisterClient() error = %v", err)
			}
			if client.IsConfidential() != tt.wantConfidential {
				t.Errorf("IsConfidential() = %v, want %v", client.IsConfidential(), tt.wantConfidential)
			}
			if client.SecretHash == tt.reg.Secret && tt.reg.Secret != "" {
				t.Error("secret stored in plain text")
			}

			if _, err := store.AuthenticateClient(ctx, tt.reg.ID, tt.reg.Secret); err != nil {
				t.Errorf("AuthenticateClient() with registered secret error = %v", err)
			}
		})
	}
}

func TestServer_RegisterClient_Overwrites(t *testing.T) {
	srv, store, _ := setupFlowTestServer(t, nil)
	ctx := context.Background()

	_, err := srv.RegisterClient(ctx, ClientRegistration{
		ID:          testutil.TestClientID,
		Secret:      "rotated-secret",
		RedirectURI: "https://new.example.com/cb",
		Scope:       "other",
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	client, err := store.LookupClient(ctx, testutil.TestClientID)
	if err != nil {
		t.Fatalf("LookupClient() error = %v", err)
	}
	if client.RedirectURI != "https://new.example.com/cb" {
		t.Errorf("RedirectURI = %q, want the new registration", client.RedirectURI)
	}
	if _, err := store.AuthenticateClient(ctx, testutil.TestClientID, testutil.TestClientSecret); err == nil {
		t.Error("old secret still authenticates after re-registration")
	}
}
