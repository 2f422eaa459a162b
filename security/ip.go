package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address of the client that sent r.
//
// Forwarding headers are only consulted when trustProxy is set. With
// X-Forwarded-For ("client, proxy1, proxy2"), the rightmost
// trustedProxyCount entries are our own proxies and the entry before them is
// the client; a count of zero means one proxy.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	if trustedProxyCount == 0 {
		trustedProxyCount = 1
	}
	idx := max(len(hops)-trustedProxyCount-1, 0)

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
