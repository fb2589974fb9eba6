// internal/view/static.go
//
// Public routes that sit on the tenant skip list: static assets, the
// favicon, and the generic error page.
//
// Assets live on disk under `<root>/public`.  `/public/x` maps to
// `<root>/public/x`; `/css`, `/js`, and `/images` map to the directory of
// the same name inside it, and `/favicon.ico` to `<root>/public/favicon.ico`.
// Directory listings are never served.

package view

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// AssetPrefixes are the directories served from the public root.
var AssetPrefixes = []string{"/public", "/css", "/js", "/images"}

// MountPublic registers the asset routes, /favicon.ico, and /error on r.
func MountPublic(r chi.Router, dir string) {
	assets := Assets(dir)
	for _, p := range AssetPrefixes {
		r.Handle(p+"/*", assets)
	}
	r.Handle("/favicon.ico", assets)
	r.Get("/error", ErrorLanding)
}

// Assets serves files under dir.
func Assets(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strings.HasSuffix(p, "/") {
			http.NotFound(w, r)
			return
		}
		if rest, ok := strings.CutPrefix(p, "/public/"); ok {
			r = r.Clone(r.Context())
			r.URL.Path = "/" + rest
			r.URL.RawPath = ""
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		files.ServeHTTP(w, r)
	})
}

// ErrorLanding is the target for clients sent to /error.  It never echoes
// request input.
func ErrorLanding(w http.ResponseWriter, r *http.Request) {
	RenderError(w, http.StatusOK, ErrorPage{
		Title:         "Something went wrong",
		Message:       "The page could not be loaded.  Please try again in a moment.",
		CurrentDomain: strings.ToLower(r.Host),
	})
}
