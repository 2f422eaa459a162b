// Package server implements the authorization server side of the OAuth 2.0
// Authorization Code Grant.
//
// The Server type coordinates three storage roles and a consent strategy:
//   - client registration and authentication (storage.ClientRegistry)
//   - single-use authorization codes (storage.CodeStore)
//   - access and refresh tokens (storage.TokenStore)
//   - resource owner consent (DecisionProvider)
//
// It exposes the authorization flow (Authorize), the token endpoint logic
// (Exchange) and the protected resource check (Guard). None of them know
// about HTTP; the root package maps their errors onto OAuth error responses.
//
// Example usage:
//
//	ds := memory.New()
//	store := kv.New(ds, memory.BackendName)
//
//	srv, err := server.New(store, store, store, &server.Config{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := srv.Authorize(ctx, server.AuthorizationRequestFromQuery(q), &server.QueryFlagProvider{}, q)
package server
