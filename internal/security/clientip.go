package security

import (
	"net"
	"net/http"
)

// ClientIP returns the host part of r.RemoteAddr. When the gateway trusts a
// fronting proxy, chi's RealIP middleware has already rewritten RemoteAddr
// from X-Forwarded-For / X-Real-IP by the time this runs.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
