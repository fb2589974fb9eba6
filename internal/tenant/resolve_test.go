package tenant

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDomain(t *testing.T) {
	const suffix = "caresuite.example"
	cases := []struct {
		name string
		s    Signals
		want string
	}{
		{
			name: "real host beats conflicting host",
			s:    Signals{RealHost: "cityclinic.caresuite.example", Host: "other.caresuite.example"},
			want: "cityclinic.caresuite.example",
		},
		{
			name: "original host before forwarded host",
			s:    Signals{OriginalHost: "a.example", ForwardedHost: "b.example", Host: "c.example"},
			want: "a.example",
		},
		{
			name: "wildcard real host falls through",
			s:    Signals{RealHost: "*.caresuite.example", Host: "north.caresuite.example"},
			want: "north.caresuite.example",
		},
		{
			name: "port stripped and lower-cased",
			s:    Signals{Host: "CityClinic.Example.COM:8443"},
			want: "cityclinic.example.com",
		},
		{
			name: "private prefixes rejected",
			s:    Signals{RealHost: "127.0.0.1:3000", ForwardedHost: "192.168.1.20", Host: "clinic.example"},
			want: "clinic.example",
		},
		{
			name: "localhost without referer is unresolved",
			s:    Signals{Host: "localhost:3000", URLHost: "localhost"},
			want: "",
		},
		{
			name: "referer fallback under public suffix",
			s:    Signals{Host: "localhost", Referer: "https://east.caresuite.example/patients?page=2"},
			want: "east.caresuite.example",
		},
		{
			name: "referer outside public suffix ignored",
			s:    Signals{Host: "localhost", Referer: "https://evil.example/x"},
			want: "",
		},
		{
			name: "referer suffix must be a label boundary",
			s:    Signals{Host: "localhost", Referer: "https://notcaresuite.example/"},
			want: "",
		},
		{
			name: "nothing at all",
			s:    Signals{},
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveDomain(tc.s, suffix))
		})
	}
}

func TestResolveDomain_RefererDisabledWithoutSuffix(t *testing.T) {
	s := Signals{Host: "localhost", Referer: "https://east.caresuite.example/"}
	assert.Equal(t, "", ResolveDomain(s, ""))
}

func TestSignalsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://fallback.example/patients", nil)
	r.Host = "host.example"
	r.Header.Set(HeaderRealHost, "real.example")
	r.Header.Set(HeaderOriginalHost, "orig.example")
	r.Header.Set(HeaderForwardedHost, " fwd.example , proxy.internal")
	r.Header.Set("Referer", "https://ref.example/")

	s := SignalsFromRequest(r)
	assert.Equal(t, "real.example", s.RealHost)
	assert.Equal(t, "orig.example", s.OriginalHost)
	assert.Equal(t, "fwd.example", s.ForwardedHost)
	assert.Equal(t, "host.example", s.Host)
	assert.Equal(t, "fallback.example", s.URLHost)
	assert.Equal(t, "https://ref.example/", s.Referer)
}

func TestSkipMatcher(t *testing.T) {
	m := NewSkipMatcher("/public", "css/", "/favicon.ico", "/")
	assert.True(t, m.Match("/public/logo.png"))
	assert.True(t, m.Match("/public"))
	assert.True(t, m.Match("/css/site.css"))
	assert.True(t, m.Match("/favicon.ico"))
	assert.True(t, m.Match("/"))
	assert.False(t, m.Match("/publicity"))
	assert.False(t, m.Match("/patients"))

	var nilMatcher *SkipMatcher
	assert.False(t, nilMatcher.Match("/public"))
}
