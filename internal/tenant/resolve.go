// internal/tenant/resolve.go
//
// Domain resolution.
//
// Context
// -------
// Behind the load balancer the Host header is often rewritten, so the
// canonical tenant hostname may arrive in one of several headers.  The
// candidates are tried in a fixed priority order and the first usable one
// wins.  When none qualifies, the Referer is tried as a last resort, but
// only when it points at a subdomain of our public suffix.
//
// Resolution is a pure function of the request signals.  It never touches
// the catalog.
package tenant

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Header names consulted, highest priority first.
const (
	HeaderRealHost      = "X-Real-Host"
	HeaderOriginalHost  = "X-Original-Host"
	HeaderForwardedHost = "X-Forwarded-Host"
)

var privatePrefixes = []string{"127.0.0.1", "192.168."}

// Signals are the request values the resolver looks at.
type Signals struct {
	RealHost      string
	OriginalHost  string
	ForwardedHost string
	Host          string
	URLHost       string
	Referer       string
}

// SignalsFromRequest collects Signals from r.  X-Forwarded-Host may carry
// a comma-separated chain; the first (client-facing) entry is used.
func SignalsFromRequest(r *http.Request) Signals {
	fwd := r.Header.Get(HeaderForwardedHost)
	if i := strings.IndexByte(fwd, ','); i >= 0 {
		fwd = fwd[:i]
	}
	return Signals{
		RealHost:      r.Header.Get(HeaderRealHost),
		OriginalHost:  r.Header.Get(HeaderOriginalHost),
		ForwardedHost: strings.TrimSpace(fwd),
		Host:          r.Host,
		URLHost:       r.URL.Hostname(),
		Referer:       r.Referer(),
	}
}

// candidates returns the host sources in priority order.
func (s Signals) candidates() []string {
	return []string{s.RealHost, s.OriginalHost, s.ForwardedHost, s.Host, s.URLHost}
}

// ResolveDomain returns the canonical lower-case hostname for s, or "" when
// no signal names a usable tenant domain.  publicSuffix gates the Referer
// fallback; an empty suffix disables it.
func ResolveDomain(s Signals, publicSuffix string) string {
	for _, c := range s.candidates() {
		if h := normaliseHost(c); usable(h) {
			return h
		}
	}
	return refererDomain(s.Referer, publicSuffix)
}

// Resolve is ResolveDomain applied to an *http.Request.
func Resolve(r *http.Request, publicSuffix string) string {
	return ResolveDomain(SignalsFromRequest(r), publicSuffix)
}

func refererDomain(ref, publicSuffix string) string {
	if ref == "" || publicSuffix == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	h := strings.ToLower(u.Hostname())
	suffix := strings.ToLower(strings.TrimPrefix(publicSuffix, "."))
	if !strings.HasSuffix(h, "."+suffix) && h != suffix {
		return ""
	}
	if !usable(h) {
		return ""
	}
	return h
}

// normaliseHost trims whitespace, drops any :port, and lower-cases.
func normaliseHost(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	} else if i := strings.LastIndexByte(h, ':'); i > 0 && !strings.Contains(h[:i], ":") {
		h = h[:i]
	}
	return strings.ToLower(strings.Trim(h, "[]"))
}

// usable rejects empty, wildcard, localhost, and private-network hosts.
func usable(h string) bool {
	if h == "" || h == "localhost" || strings.HasPrefix(h, "*.") || strings.Contains(h, "*") {
		return false
	}
	for _, p := range privatePrefixes {
		if strings.HasPrefix(h, p) {
			return false
		}
	}
	return true
}
