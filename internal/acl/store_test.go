// internal/acl/store_test.go
//
// Unit-tests for feature flags and role checks using sqlmock.
//
// Run: go test ./internal/acl -v

package acl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/caresuite/hospital/internal/auth"
	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/tenant"
)

const settingQuery = "SELECT * FROM `settings` WHERE `name` = ? LIMIT 1"

func tenantFactory(t *testing.T) (context.Context, *repository.Factory, sqlmock.Sqlmock) {
	t.Helper()
	var mock sqlmock.Sqlmock
	pool := tenant.NewPool(func(context.Context, string) (*sqlx.DB, error) {
		db, m, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		mock = m
		return sqlx.NewDb(db, "sqlmock"), err
	})
	t.Cleanup(func() { _ = pool.Close() })

	conn, err := pool.GetOrCreate(context.Background(), "hms_alpha")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	ctx := tenant.WithContext(context.Background(), &tenant.Context{Conn: conn})
	return ctx, repository.NewFactory(pool), mock
}

func TestFeatureEnabled(t *testing.T) {
	ctx, f, mock := tenantFactory(t)

	mock.ExpectQuery(settingQuery).WithArgs("feature.lab").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow("feature.lab", "Enabled"))
	mock.ExpectQuery(settingQuery).WithArgs("feature.cabins").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow("feature.cabins", "disabled"))
	mock.ExpectQuery(settingQuery).WithArgs("feature.commissions").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}))

	for name, want := range map[string]bool{"lab": true, "cabins": false, "commissions": false} {
		got, err := FeatureEnabled(ctx, f, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRequireFeature_NoTenantContext(t *testing.T) {
	_, f, _ := tenantFactory(t)
	h := RequireFeature(f, "lab")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next must not run")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tests", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestRequireFeature_Disabled(t *testing.T) {
	ctx, f, mock := tenantFactory(t)
	mock.ExpectQuery(settingQuery).WithArgs("feature.lab").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}))

	h := RequireFeature(f, "lab")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next must not run")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tests", nil).WithContext(ctx))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin", "receptionist")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		user *auth.User
		want int
	}{
		{nil, http.StatusUnauthorized},
		{&auth.User{ID: 1, Role: "doctor"}, http.StatusForbidden},
		{&auth.User{ID: 2, Role: "receptionist"}, http.StatusNoContent},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/patients", nil)
		if tc.user != nil {
			r = r.WithContext(auth.WithUser(r.Context(), tc.user))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != tc.want {
			t.Errorf("role %v: status = %d, want %d", tc.user, w.Code, tc.want)
		}
	}
}
