// internal/auth/middleware.go
//
// Session middleware.
//
// Context
// -------
// Runs after tenant resolution.  For every request outside the allowlist
// it:
//
//  1. Reads the token from `Authorization: Bearer …` or the session cookie.
//  2. Verifies it and checks the db claim against the request's tenant.
//  3. Loads the user through the tenant-bound Users repository.
//  4. Attaches *User to the request context.
//
// A missing tenant context is an ordering bug.  It is answered with the
// retryable 500 page, never with "please log in".
//
// Notes
// -----
// • JSON clients get 401 JSON; browsers are redirected to /login.
// • Oxford commas, two spaces after periods.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/requestinfo"
	"github.com/caresuite/hospital/internal/tenant"
)

// UserSource hands out the tenant-bound Users repository.
// *repository.Factory satisfies it.
type UserSource interface {
	Users(ctx context.Context) (*repository.Repository, error)
}

// DefaultAllowlist is reachable without a session.
func DefaultAllowlist() []string { return []string{"/", "/login", "/logout"} }

// Middleware enforces a valid session.
type Middleware struct {
	Users      UserSource
	Tokens     *Tokens
	CookieName string
	Allow      *tenant.SkipMatcher
}

// NewMiddleware builds a Middleware with the default allowlist.
func NewMiddleware(users UserSource, tokens *Tokens, cookie string) *Middleware {
	return &Middleware{
		Users:      users,
		Tokens:     tokens,
		CookieName: cookie,
		Allow:      tenant.NewSkipMatcher(DefaultAllowlist()...),
	}
}

// Handler is the chi-compatible middleware function.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Allow.Match(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tc, err := tenant.FromContext(r.Context())
		if err != nil {
			zap.L().Error("auth ran without tenant context", zap.String("path", r.URL.Path))
			tenant.WriteError(w, r, err)
			return
		}

		raw := m.token(r)
		if raw == "" {
			m.unauthorized(w, r, "Please sign in.")
			return
		}
		claims, err := m.Tokens.Parse(raw)
		if err != nil {
			m.unauthorized(w, r, "Your session has expired. Please sign in again.")
			return
		}
		if claims.Database != tc.DatabaseName() {
			zap.L().Warn("session token presented to wrong tenant",
				zap.String("token_db", claims.Database),
				zap.String("tenant_db", tc.DatabaseName()))
			m.unauthorized(w, r, "Please sign in.")
			return
		}
		uid, err := claims.UserID()
		if err != nil {
			m.unauthorized(w, r, "Please sign in.")
			return
		}

		u, err := m.load(r.Context(), uid)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			m.unauthorized(w, r, "Please sign in.")
			return
		case err != nil:
			zap.L().Error("session user load failed",
				zap.Int64("user_id", uid),
				zap.String("database", tc.DatabaseName()),
				zap.Error(err))
			tenant.WriteError(w, r, err)
			return
		}
		if !u.Active() {
			m.unauthorized(w, r, "This account is disabled.")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func (m *Middleware) load(ctx context.Context, id int64) (*User, error) {
	users, err := m.Users.Users(ctx)
	if err != nil {
		return nil, err
	}
	var u User
	if err := users.Get(ctx, &u, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// token prefers the Authorization header over the cookie.
func (m *Middleware) token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie(m.CookieName); err == nil {
		return c.Value
	}
	return ""
}

func (m *Middleware) unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	if requestinfo.WantsJSON(r) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     false,
			"message":     msg,
			"redirectUrl": "/login",
		})
		return
	}
	http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
}

// SetCookie writes the session cookie.
func SetCookie(w http.ResponseWriter, name, token string, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, name string) {
	SetCookie(w, name, "", -1, false)
}
