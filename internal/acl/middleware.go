// internal/acl/middleware.go
//
// Chi middleware helpers that enforce roles and per-tenant features.
//
// Both run after the session middleware.  Lookup failures caused by a
// missing tenant context are written as the retryable tenant error, not as
// a 403.

package acl

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/auth"
	"github.com/caresuite/hospital/internal/tenant"
)

// RequireRole ensures the current user holds ANY of the supplied roles.
func RequireRole(names ...string) func(http.Handler) http.Handler {
	if len(names) == 0 {
		panic("acl.RequireRole: at least one role name must be supplied")
	}
	allowSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowSet[n] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := auth.UserFrom(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if _, ok := allowSet[u.Role]; !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireFeature lets the request through only when feature.<name> is
// enabled in the tenant's settings.
func RequireFeature(src SettingSource, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			on, err := FeatureEnabled(r.Context(), src, name)
			if err != nil {
				zap.L().Error("acl feature lookup",
					zap.String("feature", name), zap.Error(err))
				tenant.WriteError(w, r, err)
				return
			}
			if !on {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
