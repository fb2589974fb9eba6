// components/dashboard/dashboard.go
//
// Dashboard component – per-entity counts for the signed-in tenant.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/component"
	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/tenant"
	"github.com/caresuite/hospital/internal/view"
)

// tiles lists the counted entities in display order.
var tiles = []struct {
	Label  string
	Entity string
	Where  repository.Where
}{
	{"patients", repository.EntityPatient, nil},
	{"doctors", repository.EntityDoctor, repository.Where{"status": "active"}},
	{"upcoming appointments", repository.EntityAppointment, repository.Where{"status": "scheduled"}},
	{"unpaid bills", repository.EntityBilling, repository.Where{"status": "unpaid"}},
	{"occupied cabins", repository.EntityCabin, repository.Where{"status": "occupied"}},
	{"staff", repository.EntityStaff, repository.Where{"status": "active"}},
}

// Count is one dashboard tile.
type Count struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

var _ component.Component = (*Comp)(nil)

// Comp serves /dashboard and /api/dashboard.
type Comp struct {
	repos *repository.Factory
}

func (c *Comp) Name() string { return "dashboard" }

func (c *Comp) Init(d component.Deps) error {
	if d.Repos == nil {
		return errors.New("dashboard component: repositories are required")
	}
	c.repos = d.Repos
	return nil
}

func (c *Comp) Routes(r chi.Router) {
	r.Get("/dashboard", c.page)
	r.Get("/api/dashboard", c.api)
}

func init() { component.Register(&Comp{}) }

func (c *Comp) page(w http.ResponseWriter, r *http.Request) {
	tc, counts, err := c.counts(r.Context())
	if err != nil {
		zap.L().Error("dashboard counts failed", zap.Error(err))
		tenant.WriteError(w, r, err)
		return
	}
	if err := view.Render(w, http.StatusOK, "dashboard", map[string]any{
		"Title":    "Dashboard",
		"Hospital": tc.Domain.DomainName,
		"Expiry":   tc.Database.ExpiryDate,
		"Counts":   counts,
	}); err != nil {
		zap.L().Error("dashboard render failed", zap.Error(err))
	}
}

func (c *Comp) api(w http.ResponseWriter, r *http.Request) {
	tc, counts, err := c.counts(r.Context())
	if err != nil {
		zap.L().Error("dashboard counts failed", zap.Error(err))
		tenant.WriteError(w, r, err)
		return
	}
	component.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"domain":  tc.Domain.DomainName,
		"expiry":  tc.Database.ExpiryDate.Format(time.DateOnly),
		"counts":  counts,
	})
}

func (c *Comp) counts(ctx context.Context) (*tenant.Context, []Count, error) {
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Count, 0, len(tiles))
	for _, t := range tiles {
		repo, err := c.repos.For(ctx, t.Entity)
		if err != nil {
			return nil, nil, err
		}
		n, err := repo.Count(ctx, t.Where)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, Count{Label: t.Label, Count: n})
	}
	return tc, out, nil
}
