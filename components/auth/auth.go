// components/auth/auth.go
//
// Authentication component – login and logout.
//
// The login form posts email, password, and a CSRF token.  JSON clients
// skip the token since browsers will not send that content type
// cross-origin without a preflight.  Credentials are checked
// against the requesting tenant's `users` table, and the issued session
// token is pinned to that tenant's database.
//
//------------------------------------------------------------------------------

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	iauth "github.com/caresuite/hospital/internal/auth"
	"github.com/caresuite/hospital/internal/component"
	"github.com/caresuite/hospital/internal/csrf"
	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/requestinfo"
	"github.com/caresuite/hospital/internal/tenant"
	"github.com/caresuite/hospital/internal/view"
)

// Compile-time assertion: *Component satisfies component.Component.
var _ component.Component = (*Component)(nil)

// Component encapsulates login functionality.
type Component struct {
	deps     component.Deps
	validate *validator.Validate
}

type credentials struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Next     string `json:"next"`

	isJSON bool
	token  string
}

/*────────────────── component.Component methods ───────────────────────────*/

// Name returns the canonical component key.
func (c *Component) Name() string { return "auth" }

// Init keeps the shared dependencies.
func (c *Component) Init(d component.Deps) error {
	if d.Repos == nil || d.Tokens == nil {
		return errors.New("auth component: repositories and tokens are required")
	}
	c.deps = d
	c.validate = validator.New()
	return nil
}

// Routes adds the login flow.
func (c *Component) Routes(r chi.Router) {
	r.Get("/", c.handleRoot)
	r.Get("/login", c.handleLoginGET)
	r.Post("/login", c.handleLoginPOST)
	r.Get("/logout", c.handleLogout)
	r.Post("/logout", c.handleLogout)
}

// Register component at program start.
func init() { component.Register(&Component{}) }

/*──────────────────────────── Handlers ─────────────────────────────────────*/

func (c *Component) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (c *Component) handleLoginGET(w http.ResponseWriter, r *http.Request) {
	c.renderLogin(w, r, http.StatusOK, credentials{Next: r.URL.Query().Get("next")}, "")
}

func (c *Component) handleLoginPOST(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.FromContext(r.Context())
	if err != nil {
		tenant.WriteError(w, r, err)
		return
	}

	in, err := c.readCredentials(w, r)
	if !in.isJSON && c.deps.CSRF != nil && !c.deps.CSRF.Verify(in.token, tc.DatabaseName()) {
		in.Password = ""
		c.renderLogin(w, r, http.StatusForbidden, in, "This form has expired.  Please try again.")
		return
	}
	if err != nil {
		c.reject(w, r, http.StatusBadRequest, in, "Enter a valid email and password.")
		return
	}

	u, err := c.lookup(r, in.Email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.reject(w, r, http.StatusUnauthorized, in, "Incorrect email or password.")
		return
	case err != nil:
		zap.L().Error("login lookup failed", zap.String("database", tc.DatabaseName()), zap.Error(err))
		tenant.WriteError(w, r, err)
		return
	}
	if !u.Active() || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		c.reject(w, r, http.StatusUnauthorized, in, "Incorrect email or password.")
		return
	}

	token, exp, err := c.deps.Tokens.Issue(u, tc.DatabaseName())
	if err != nil {
		zap.L().Error("token issue failed", zap.Error(err))
		component.Fail(w, http.StatusInternalServerError, "Unable to sign in right now.")
		return
	}
	zap.L().Info("user signed in",
		zap.Int64("user_id", u.ID), zap.String("database", tc.DatabaseName()))

	iauth.SetCookie(w, c.deps.CookieName, token, int(c.deps.Tokens.TTL().Seconds()), c.deps.SecureCookie)
	if requestinfo.WantsJSON(r) {
		component.WriteJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"token":     token,
			"expiresAt": exp,
			"user":      u,
		})
		return
	}
	http.Redirect(w, r, safeNext(in.Next), http.StatusSeeOther)
}

func (c *Component) handleLogout(w http.ResponseWriter, r *http.Request) {
	iauth.ClearCookie(w, c.deps.CookieName)
	if requestinfo.WantsJSON(r) {
		component.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

/*──────────────────────────── helpers ──────────────────────────────────────*/

func (c *Component) readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var in credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		in.isJSON = true
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&in); err != nil {
			return in, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return in, err
		}
		in = credentials{
			Email:    r.PostForm.Get("email"),
			Password: r.PostForm.Get("password"),
			Next:     r.PostForm.Get("next"),
			token:    r.PostForm.Get(csrf.FieldName),
		}
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	return in, c.validate.Struct(in)
}

func (c *Component) lookup(r *http.Request, email string) (*iauth.User, error) {
	users, err := c.deps.Repos.Users(r.Context())
	if err != nil {
		return nil, err
	}
	var u iauth.User
	if err := users.First(r.Context(), &u, repository.Filter{
		Where: repository.Where{"email": email},
	}); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Component) reject(w http.ResponseWriter, r *http.Request, status int, in credentials, msg string) {
	if requestinfo.WantsJSON(r) {
		component.Fail(w, status, msg)
		return
	}
	in.Password = ""
	c.renderLogin(w, r, status, in, msg)
}

func (c *Component) renderLogin(w http.ResponseWriter, r *http.Request, status int, in credentials, msg string) {
	data := map[string]any{
		"Title":    "Sign in",
		"Hospital": "Sign in",
		"Email":    in.Email,
		"Next":     in.Next,
		"Error":    msg,
	}
	if tc, err := tenant.FromContext(r.Context()); err == nil {
		data["Hospital"] = tc.Domain.DomainName
		if c.deps.CSRF != nil {
			tok, err := c.deps.CSRF.Issue(tc.DatabaseName())
			if err != nil {
				zap.L().Error("csrf issue failed", zap.Error(err))
			}
			data["CSRF"] = tok
		}
	}
	if err := view.Render(w, status, "login", data); err != nil {
		zap.L().Error("login render failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// safeNext keeps redirects on this host.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}
