package server

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

func testSolicitation() *Solicitation {
	return &Solicitation{
		ClientID:    "local_client_id",
		ClientName:  "Local Client",
		RedirectURI: "http://localhost:8080/redirect",
		Scope:       "default-scope",
		State:       "abc",
	}
}

func TestQueryFlagProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  QueryFlagProvider
		query     url.Values
		wantKind  DecisionKind
		wantOwner string
	}{
		{"allow flag approves", QueryFlagProvider{}, url.Values{"allow": {"true"}}, DecisionAuthorized, DefaultOwnerID},
		{"no flag denies", QueryFlagProvider{}, url.Values{}, DecisionDenied, ""},
		{"false flag denies", QueryFlagProvider{}, url.Values{"allow": {"false"}}, DecisionDenied, ""},
		{"garbage flag denies", QueryFlagProvider{}, url.Values{"allow": {"yes please"}}, DecisionDenied, ""},
		{"custom flag", QueryFlagProvider{Flag: "approve", OwnerID: "alice"}, url.Values{"approve": {"1"}}, DecisionAuthorized, "alice"},
		{"custom flag ignores allow", QueryFlagProvider{Flag: "approve"}, url.Values{"allow": {"true"}}, DecisionDenied, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.provider.Decide(context.Background(), testSolicitation(), tt.query)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if d.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", d.Kind, tt.wantKind)
			}
			if d.OwnerID != tt.wantOwner {
				t.Errorf("OwnerID = %q, want %q", d.OwnerID, tt.wantOwner)
			}
			if d.Page != nil {
				t.Error("QueryFlagProvider must never return a page")
			}
		})
	}
}

func TestConsentPageProvider_Decisions(t *testing.T) {
	p := &ConsentPageProvider{}

	tests := []struct {
		name      string
		submitted bool
		query     url.Values
		wantKind  DecisionKind
	}{
		{"allow", true, url.Values{"allow": {"true"}}, DecisionAuthorized},
		{"deny", true, url.Values{"deny": {"true"}}, DecisionDenied},
		{"deny wins over allow", true, url.Values{"allow": {"true"}, "deny": {"true"}}, DecisionDenied},
		{"submitted without decision denies", true, url.Values{}, DecisionDenied},
		{"false allow denies", true, url.Values{"allow": {"false"}}, DecisionDenied},
		{"undecided", false, url.Values{}, DecisionInProgress},
		{"allow flag on a plain request shows the page", false, url.Values{"allow": {"true"}}, DecisionInProgress},
		{"deny flag on a plain request shows the page", false, url.Values{"deny": {"true"}}, DecisionInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol := testSolicitation()
			sol.Submitted = tt.submitted

			d, err := p.Decide(context.Background(), sol, tt.query)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if d.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", d.Kind, tt.wantKind)
			}
			if (d.Kind == DecisionInProgress) != (len(d.Page) > 0) {
				t.Errorf("page presence does not match kind %v", d.Kind)
			}
		})
	}
}

func TestConsentPageProvider_Page(t *testing.T) {
	p := &ConsentPageProvider{}
	sol := testSolicitation()
	sol.State = `<script>alert("x")</script>`

	d, err := p.Decide(context.Background(), sol, url.Values{})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	page := string(d.Page)

	for _, want := range []string{"local_client_id", "http://localhost:8080/redirect", "default-scope", "Accept", "Deny"} {
		if !strings.Contains(page, want) {
			t.Errorf("page does not contain %q", want)
		}
	}
	if strings.Contains(page, "<script>") {
		t.Error("state was not escaped")
	}
	if !strings.Contains(page, `action="/consent?`) {
		t.Error("buttons do not post to /consent")
	}
	if !strings.Contains(page, "allow=true") || !strings.Contains(page, "deny=true") {
		t.Error("buttons do not carry the decision flags")
	}
}

func TestConsentPageProvider_NoState(t *testing.T) {
	p := &ConsentPageProvider{Action: "/approve"}
	sol := testSolicitation()
	sol.State = ""

	d, err := p.Decide(context.Background(), sol, url.Values{})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	page := string(d.Page)
	if !strings.Contains(page, "[no state]") {
		t.Error("page does not mark the missing state")
	}
	if !strings.Contains(page, `action="/approve?`) {
		t.Error("custom action not used")
	}
}

func TestSolicitation_Params(t *testing.T) {
	sol := testSolicitation()
	p := sol.Params()

	if p.Get("response_type") != "code" {
		t.Errorf("response_type = %q", p.Get("response_type"))
	}
	if p.Get("client_id") != sol.ClientID || p.Get("redirect_uri") != sol.RedirectURI || p.Get("scope") != sol.Scope {
		t.Errorf("params %v do not echo the solicitation", p)
	}
	if p.Get("state") != "abc" {
		t.Errorf("state = %q, want abc", p.Get("state"))
	}

	sol.State = ""
	if _, ok := sol.Params()["state"]; ok {
		t.Error("empty state must be omitted")
	}
}
