package tenant

import "strings"

// SkipMatcher decides which paths bypass tenant resolution.  A prefix
// matches the path itself and anything below it, so "/css" covers
// "/css/site.css" but not "/cssx".
type SkipMatcher struct {
	prefixes []string
}

// NewSkipMatcher normalises prefixes (leading slash, no trailing slash).
func NewSkipMatcher(prefixes ...string) *SkipMatcher {
	m := &SkipMatcher{}
	m.Add(prefixes...)
	return m
}

// Add extends the allowlist.  It is not safe to call once requests are
// being served.
func (m *SkipMatcher) Add(prefixes ...string) {
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if p != "/" {
			p = strings.TrimRight(p, "/")
		}
		m.prefixes = append(m.prefixes, p)
	}
}

// Match reports whether path is allowlisted.
func (m *SkipMatcher) Match(path string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.prefixes {
		if p == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
