package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	iauth "github.com/caresuite/hospital/internal/auth"
	"github.com/caresuite/hospital/internal/catalog"
	"github.com/caresuite/hospital/internal/component"
	"github.com/caresuite/hospital/internal/csrf"
	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/tenant"
)

const byEmail = "SELECT * FROM `users` WHERE `email` = ? LIMIT 1"

type env struct {
	router *chi.Mux
	mock   sqlmock.Sqlmock
	tokens *iauth.Tokens
	csrf   *csrf.Signer
	tc     *tenant.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	var mock sqlmock.Sqlmock
	pool := tenant.NewPool(func(context.Context, string) (*sqlx.DB, error) {
		db, m, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		mock = m
		return sqlx.NewDb(db, "sqlmock"), err
	})
	t.Cleanup(func() { _ = pool.Close() })
	conn, err := pool.GetOrCreate(context.Background(), "hms_alpha")
	require.NoError(t, err)

	tokens := iauth.NewTokens("0123456789abcdef0123", time.Hour)
	signer := csrf.New("0123456789abcdef0123")
	c := &Component{}
	require.NoError(t, c.Init(component.Deps{
		Repos:      repository.NewFactory(pool),
		Tokens:     tokens,
		CookieName: "hms_session",
		CSRF:       signer,
	}))
	r := chi.NewRouter()
	c.Routes(r)

	return &env{
		router: r,
		mock:   mock,
		tokens: tokens,
		csrf:   signer,
		tc: &tenant.Context{
			Conn:   conn,
			Domain: catalog.Domain{ID: 1, DomainName: "alpha.caresuite.example"},
		},
	}
}

func (e *env) do(r *http.Request) *httptest.ResponseRecorder {
	r = r.WithContext(tenant.WithContext(r.Context(), e.tc))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func (e *env) formToken(t *testing.T) string {
	tok, err := e.csrf.Issue(e.tc.DatabaseName())
	require.NoError(t, err)
	return tok
}

func userRows(t *testing.T, password string) *sqlmock.Rows {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "status"}).
		AddRow(42, "Dr. Noor", "noor@alpha.example", string(hash), "doctor", "active")
}

func TestLogin_JSONIssuesTenantBoundToken(t *testing.T) {
	e := newEnv(t)
	e.mock.ExpectQuery(byEmail).WithArgs("noor@alpha.example").WillReturnRows(userRows(t, "s3cret!"))

	r := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"email":" Noor@Alpha.example ","password":"s3cret!"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	w := e.do(r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)

	claims, err := e.tokens.Parse(body.Token)
	require.NoError(t, err)
	assert.Equal(t, "hms_alpha", claims.Database)
	assert.NotContains(t, w.Body.String(), "password_hash")

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "hms_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
}

func TestLogin_FormWrongPassword(t *testing.T) {
	e := newEnv(t)
	e.mock.ExpectQuery(byEmail).WithArgs("noor@alpha.example").WillReturnRows(userRows(t, "s3cret!"))

	form := url.Values{"email": {"noor@alpha.example"}, "password": {"guess"}, "csrf_token": {e.formToken(t)}}
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := e.do(r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Incorrect email or password.")
	assert.Contains(t, w.Body.String(), `value="noor@alpha.example"`)
}

func TestLogin_FormSuccessRedirects(t *testing.T) {
	e := newEnv(t)
	e.mock.ExpectQuery(byEmail).WithArgs("noor@alpha.example").WillReturnRows(userRows(t, "s3cret!"))

	form := url.Values{
		"email":      {"noor@alpha.example"},
		"password":   {"s3cret!"},
		"next":       {"//evil.example"},
		"csrf_token": {e.formToken(t)},
	}
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := e.do(r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
}

func TestLogin_FormRequiresCSRF(t *testing.T) {
	e := newEnv(t)
	other, err := e.csrf.Issue("hms_beta")
	require.NoError(t, err)

	for _, tok := range []string{"", other} {
		form := url.Values{"email": {"noor@alpha.example"}, "password": {"s3cret!"}, "csrf_token": {tok}}
		r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := e.do(r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	}
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestLogin_PageEmbedsToken(t *testing.T) {
	e := newEnv(t)
	w := e.do(httptest.NewRequest(http.MethodGet, "/login?next=/patients", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="csrf_token"`)
	assert.Contains(t, w.Body.String(), `value="/patients"`)
}

func TestLogin_InvalidInput(t *testing.T) {
	e := newEnv(t)
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"nope"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	w := e.do(r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/patients?page=2", safeNext("/patients?page=2"))
	assert.Equal(t, "/dashboard", safeNext("https://evil.example"))
	assert.Equal(t, "/dashboard", safeNext("//evil.example"))
	assert.Equal(t, "/dashboard", safeNext(`/\evil.example`))
	assert.Equal(t, "/dashboard", safeNext(""))
}
