// internal/middleware/https.go
//
// Plain-HTTP to HTTPS redirect.
//
// Notes
// -----
// • A TLS-terminating proxy signals the original scheme through
//   X-Forwarded-Proto, which is honoured before r.TLS.
// • Development hosts (localhost, loopback, and private 192.168.x.x) are
//   never redirected, matching the hosts tenant resolution rejects.
// • Only GET and HEAD get a 308.  Other methods receive 400 so a client
//   never replays a body over plain HTTP.

package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ForceHTTPS returns a wrapper that 308-redirects plain HTTP requests to the
// same URL on HTTPS.  When enabled is false the wrapper is a no-op.
func ForceHTTPS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHTTPS(r) || devHost(r.Host) {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				http.Error(w, "HTTPS required", http.StatusBadRequest)
				return
			}
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
		})
	}
}

func isHTTPS(r *http.Request) bool {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return strings.EqualFold(strings.TrimSpace(strings.Split(p, ",")[0]), "https")
	}
	return r.TLS != nil
}

func devHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(host, "192.168.")
}
