// components/tenantinfo/tenantinfo.go
//
// Tenant info component – shows which tenant, database, and client this
// request resolved to.
//
//   GET  /api/tenant          resolved tenant plus parsed request info
//   POST /api/tenant/refresh  admin only; drops cached catalog rows and
//                             repositories so the next request re-reads them
package tenantinfo

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/acl"
	"github.com/caresuite/hospital/internal/auth"
	"github.com/caresuite/hospital/internal/component"
	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/requestinfo"
	"github.com/caresuite/hospital/internal/tenant"
)

var _ component.Component = (*Comp)(nil)

// Comp holds the shared caches it may flush.
type Comp struct {
	repos   *repository.Factory
	catalog component.CatalogInvalidator
}

func (c *Comp) Name() string { return "tenantinfo" }

func (c *Comp) Init(d component.Deps) error {
	c.repos = d.Repos
	c.catalog = d.Catalog
	return nil
}

func (c *Comp) Routes(r chi.Router) {
	r.Get("/api/tenant", c.info)
	r.With(acl.RequireRole("admin")).Post("/api/tenant/refresh", c.refresh)
}

func init() { component.Register(&Comp{}) }

func (c *Comp) info(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.FromContext(r.Context())
	if err != nil {
		tenant.WriteError(w, r, err)
		return
	}
	out := map[string]any{
		"success":     true,
		"request_id":  tc.ID.String(),
		"domain":      tc.Domain.DomainName,
		"database":    tc.DatabaseName(),
		"status":      tc.Database.Status,
		"expiry":      tc.Database.ExpiryDate.Format(time.DateOnly),
		"resolved_at": tc.ResolvedAt,
	}
	if u, ok := auth.UserFrom(r.Context()); ok {
		out["user"] = u
	}
	if ri := requestinfo.FromContext(r.Context()); ri != nil {
		out["client"] = ri
	}
	component.WriteJSON(w, http.StatusOK, out)
}

func (c *Comp) refresh(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.FromContext(r.Context())
	if err != nil {
		tenant.WriteError(w, r, err)
		return
	}
	if c.catalog != nil {
		c.catalog.Invalidate(r.Context(), tc.Domain.DomainName)
	}
	var evicted int
	if c.repos != nil {
		evicted = c.repos.EvictDatabase(tc.DatabaseName())
	}
	zap.L().Info("tenant caches refreshed",
		zap.String("domain", tc.Domain.DomainName),
		zap.Int("repositories", evicted))
	component.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "repositories": evicted})
}
