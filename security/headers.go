package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the headers every authorization server and
// resource server response carries. JSON endpoints load nothing, so the
// content security policy denies everything.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	setCommonHeaders(w, serverURL)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
}

// SetPageSecurityHeaders sets headers for the HTML pages served by the
// consent screen and the demo client. Inline styles are allowed and form
// submission is restricted to the serving origin plus formTargets. Browsers
// apply form-action to the redirects that follow a submission, so a consent
// page must list the origin of the client's redirect URI.
func SetPageSecurityHeaders(w http.ResponseWriter, serverURL string, formTargets ...string) {
	setCommonHeaders(w, serverURL)

	formAction := "'self'"
	for _, target := range formTargets {
		if origin := originOf(target); origin != "" {
			formAction += " " + origin
		}
	}
	w.Header().Set("Content-Security-Policy",
		"default-src 'none'; style-src 'unsafe-inline'; form-action "+formAction+"; frame-ancestors 'none'")
}

// originOf returns scheme://host of raw, or "" when raw is not an absolute URL
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func setCommonHeaders(w http.ResponseWriter, serverURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Codes and tokens appear in these responses.
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}
