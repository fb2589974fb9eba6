// internal/middleware/security.go
//
// Security-header middleware.
//
// Sets, before the handler runs, the headers every hospital page needs:
//
//   • Strict-Transport-Security  –  HTTPS for two years
//   • Content-Security-Policy    –  self-only, no framing
//   • X-Frame-Options            –  click-jacking defence
//   • X-Content-Type-Options     –  MIME-sniffing defence
//   • Referrer-Policy            –  drops path and query from Referer
//   • Permissions-Policy         –  camera, microphone, and geolocation off
//
// Notes
// -----
// • Headers must be set before the first Write.  Handlers that need a
//   different value simply overwrite it.
// • HSTS is skipped on plain-HTTP development hosts so browsers do not pin
//   localhost.
// • Oxford commas, two spaces after periods.

package middleware

import "net/http"

var securityHeaders = [...][2]string{
	{"Content-Security-Policy", "default-src 'self'; img-src 'self' data:; object-src 'none'; " +
		"base-uri 'self'; frame-ancestors 'none'"},
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

const hsts = "max-age=63072000; includeSubDomains"

// Security sets the security headers on every response.
func Security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		if isHTTPS(r) || !devHost(r.Host) {
			h.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}
