// internal/view/render.go
//
// Server-rendered pages.
//
// Public helpers
// --------------
//   - Render      – execute a named page into an http.ResponseWriter.
//   - RenderError – the tenant/auth error page.
//
// All page templates are embedded and parsed once as a single set, so the
// shared "header" and "footer" blocks are available to every page.  Pages
// are addressed by logical name ("error", "login", "patients").
//
// Style
// -----
// • Oxford commas, two spaces after periods.

package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"
)

//go:embed templates/*.html
var files embed.FS

var (
	once     sync.Once
	set      *template.Template
	parseErr error
)

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

func templates() (*template.Template, error) {
	once.Do(func() {
		set, parseErr = template.New("").Funcs(funcs).ParseFS(files, "templates/*.html")
	})
	return set, parseErr
}

// ErrorPage is the data handed to the "error" template.
type ErrorPage struct {
	Title           string
	Message         string
	RegistrationURL string
	CurrentDomain   string
}

// Render executes page name with data and writes it with status.  The page
// is rendered into a buffer first so a template error never leaves a half
// written response.
func Render(w http.ResponseWriter, status int, name string, data any) error {
	t, err := templates()
	if err != nil {
		return err
	}
	if t.Lookup(name) == nil {
		return fmt.Errorf("view: unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}

// RenderError writes the error page.  If the template set is broken it
// degrades to plain text so the status code still reaches the client.
func RenderError(w http.ResponseWriter, status int, p ErrorPage) {
	if err := Render(w, status, "error", p); err != nil {
		http.Error(w, p.Message, status)
	}
}
