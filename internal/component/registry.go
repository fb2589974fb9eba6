// internal/component/registry.go
//
// Component registry (cycle-free).
//
// Each concrete component lives under components/<name> and calls
// component.Register() in an init() function.  At boot, cmd/web calls
// Init(deps) on every registered component and then lets each one add its
// routes to the tenant-scoped router.  Components never open database
// handles themselves; everything tenant-specific comes from Deps.Repos at
// request time.

package component

import (
	"context"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/caresuite/hospital/internal/auth"
	"github.com/caresuite/hospital/internal/csrf"
	"github.com/caresuite/hospital/internal/repository"
)

// CatalogInvalidator drops cached catalog rows for one domain.  It is nil
// when the catalog cache is disabled.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context, domain string)
}

// Deps is handed to every component once at boot.
type Deps struct {
	Repos        *repository.Factory
	Tokens       *auth.Tokens
	CookieName   string
	SecureCookie bool
	Catalog      CatalogInvalidator
	CSRF         *csrf.Signer // nil disables form token checks
}

// Component contract.
//
// Routes() adds BOTH page and API endpoints to the shared router, e.g:
//
//	r.Get("/login", c.getLogin)
//	r.Route("/api/patients", func(api chi.Router) { ... })
type Component interface {
	Name() string
	Init(Deps) error
	Routes(r chi.Router)
}

var (
	mu       sync.RWMutex
	registry = map[string]Component{}
)

// Register is invoked from component init() functions.
func Register(c Component) {
	mu.Lock()
	registry[c.Name()] = c
	mu.Unlock()
}

// All returns every registered component sorted by name, so route
// registration order is stable between runs.
func All() []Component {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Component, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Mount initialises every registered component with deps and adds its
// routes to r.
func Mount(r chi.Router, deps Deps) error {
	for _, c := range All() {
		if err := c.Init(deps); err != nil {
			return err
		}
		c.Routes(r)
	}
	return nil
}
