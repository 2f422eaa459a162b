package server

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
)

// Query flags that carry the resource owner's decision.
const (
	AllowFlag = "allow"
	DenyFlag  = "deny"
)

// DefaultOwnerID identifies the single resource owner of the demo setup.
const DefaultOwnerID = "dummy-owner"

// DefaultConsentPath is where the consent page posts its decision.
const DefaultConsentPath = "/consent"

// DecisionKind is the outcome of a consent solicitation.
type DecisionKind int

const (
	// DecisionInProgress means the owner has not decided yet and a page
	// must be shown.
	DecisionInProgress DecisionKind = iota
	// DecisionAuthorized means the owner approved the request.
	DecisionAuthorized
	// DecisionDenied means the owner declined the request.
	DecisionDenied
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAuthorized:
		return "authorized"
	case DecisionDenied:
		return "denied"
	default:
		return "in_progress"
	}
}

// Decision is what a DecisionProvider returns for one solicitation.
type Decision struct {
	Kind DecisionKind
	// OwnerID identifies the approving resource owner. Set for DecisionAuthorized.
	OwnerID string
	// Page is the HTML to show the owner. Set for DecisionInProgress.
	Page []byte
}

// Solicitation is a validated authorization request awaiting consent.
type Solicitation struct {
	ClientID    string
	ClientName  string
	RedirectURI string
	Scope       string
	State       string
	// Submitted is set when the request came from the consent form rather
	// than from the client's authorization link.
	Submitted bool
}

// Params returns the authorization request parameters, so that a consent
// form can resubmit the request together with the decision.
func (s *Solicitation) Params() url.Values {
	v := url.Values{}
	v.Set("response_type", ResponseTypeCode)
	v.Set("client_id", s.ClientID)
	v.Set("redirect_uri", s.RedirectURI)
	v.Set("scope", s.Scope)
	if s.State != "" {
		v.Set("state", s.State)
	}
	return v
}

// DecisionProvider obtains the resource owner's decision for a solicitation.
// query holds the request parameters, which may already carry a decision.
// Implementations hold no per-request state.
type DecisionProvider interface {
	Decide(ctx context.Context, sol *Solicitation, query url.Values) (Decision, error)
}

// QueryFlagProvider approves when the query carries a true Flag and denies
// otherwise. It never shows a page.
type QueryFlagProvider struct {
	// Flag is the approving query parameter. Default: "allow"
	Flag string
	// OwnerID is reported as the approving owner. Default: DefaultOwnerID
	OwnerID string
}

// Decide implements DecisionProvider.
func (p *QueryFlagProvider) Decide(_ context.Context, _ *Solicitation, query url.Values) (Decision, error) {
	flag := p.Flag
	if flag == "" {
		flag = AllowFlag
	}
	if flagSet(query, flag) {
		return Decision{Kind: DecisionAuthorized, OwnerID: ownerOrDefault(p.OwnerID)}, nil
	}
	return Decision{Kind: DecisionDenied}, nil
}

// ConsentPageProvider shows the owner a page with Accept and Deny buttons.
// The buttons resubmit the request to Action with allow=true or deny=true.
// Decision flags are only read from a submitted request: a plain
// authorization request always gets the page, and a submission without
// allow=true is a denial.
type ConsentPageProvider struct {
	// Action is the path the buttons post to. Default: DefaultConsentPath
	Action string
	// OwnerID is reported as the approving owner. Default: DefaultOwnerID
	OwnerID string
}

// Decide implements DecisionProvider.
func (p *ConsentPageProvider) Decide(_ context.Context, sol *Solicitation, query url.Values) (Decision, error) {
	if !sol.Submitted {
		page, err := p.render(sol)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionInProgress, Page: page}, nil
	}

	if flagSet(query, AllowFlag) && !flagSet(query, DenyFlag) {
		return Decision{Kind: DecisionAuthorized, OwnerID: ownerOrDefault(p.OwnerID)}, nil
	}
	return Decision{Kind: DecisionDenied}, nil
}

func (p *ConsentPageProvider) render(sol *Solicitation) ([]byte, error) {
	action := p.Action
	if action == "" {
		action = DefaultConsentPath
	}

	name := sol.ClientName
	if name == "" {
		name = sol.ClientID
	}
	state := sol.State
	if state == "" {
		state = "[no state]"
	}

	data := struct {
		ClientName  string
		ClientID    string
		RedirectURI string
		Scope       string
		State       string
		AllowURL    string
		DenyURL     string
	}{
		ClientName:  name,
		ClientID:    sol.ClientID,
		RedirectURI: sol.RedirectURI,
		Scope:       sol.Scope,
		State:       state,
		AllowURL:    decisionURL(action, sol.Params(), AllowFlag),
		DenyURL:     decisionURL(action, sol.Params(), DenyFlag),
	}

	var buf bytes.Buffer
	if err := consentTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render consent page: %w", err)
	}
	return buf.Bytes(), nil
}

func decisionURL(action string, params url.Values, flag string) string {
	params.Set(flag, "true")
	return action + "?" + params.Encode()
}

func flagSet(query url.Values, flag string) bool {
	v, err := strconv.ParseBool(query.Get(flag))
	return err == nil && v
}

func ownerOrDefault(owner string) string {
	if owner == "" {
		return DefaultOwnerID
	}
	return owner
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Authorize {{.ClientName}}</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 3em auto; }
dt { font-weight: bold; }
form { display: inline; }
</style>
</head>
<body>
<h1>Authorize {{.ClientName}}</h1>
<p>This client is asking for access to your resources.</p>
<dl>
<dt>Client ID</dt><dd>{{.ClientID}}</dd>
<dt>Redirect URI</dt><dd>{{.RedirectURI}}</dd>
<dt>Scope</dt><dd>{{.Scope}}</dd>
<dt>State</dt><dd>{{.State}}</dd>
</dl>
<form method="post" action="{{.AllowURL}}"><button type="submit">Accept</button></form>
<form method="post" action="{{.DenyURL}}"><button type="submit">Deny</button></form>
</body>
</html>
`))
