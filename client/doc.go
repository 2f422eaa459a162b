// Package client implements the relying-party side of the authorization
// code grant.
//
// A FlowController holds one session: the anti-forgery state of a pending
// authorization request and the token pair obtained for it. It moves
// through the states Idle, AwaitingRedirect, Authorized and Refreshing:
//
//	fc, _ := client.NewFlowController(client.Config{...}, logger)
//	authURL, _ := fc.StartAuthorization()       // Idle -> AwaitingRedirect
//	err := fc.HandleCallback(ctx, r.URL.Query()) // AwaitingRedirect -> Authorized
//	err = fc.Refresh(ctx)                        // Authorized -> Refreshing -> Authorized
//	resp, err := fc.CallProtectedResource(ctx)
//
// A callback whose state does not match the pending request fails with
// ErrStateMismatch and never reaches the token endpoint. A 401 from the
// protected resource is returned to the caller as is; the controller never
// refreshes on its own.
//
// Handler serves the demo pages of the client: an index offering the
// authorization URL, the redirect receiver, a home page showing the tokens
// and the protected resource, and a refresh trigger.
package client
