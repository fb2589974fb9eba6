// internal/repository/factory.go
//
// Tenant-scoped repository factory.
//
// Context
// -------
// Handlers ask for a repository by entity name and never pass a connection.
// The factory reads the handle from the request's tenant context and keeps
// one Repository per (database name, entity).
//
// A cached entry is valid only while its handle is the pool's live handle
// for that database.  Once the pool recreates the handle, the next request
// finds the old entry stale, evicts it, and binds a fresh one.
//
// Binding wires associations eagerly.  Siblings are resolved through the
// same cache, and an arena of repositories already bound in the current
// pass stops cycles (appointment → patient → appointments).
//
// Notes
// -----
//   - No tenant context means ErrNoTenantContext.  There is no default
//     handle to fall back on.
//   - A graph bound to a handle that is no longer live is handed to the
//     caller but never cached.
package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caresuite/hospital/internal/metrics"
	"github.com/caresuite/hospital/internal/tenant"
)

// Pool is the part of *tenant.Pool the factory relies on.
type Pool interface {
	Current(name string) *tenant.Conn
	Check(conn *tenant.Conn, err error) error
}

type cacheKey struct {
	database string
	entity   string
}

// Factory is safe for concurrent use.
type Factory struct {
	pool Pool
	now  func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]*Repository
}

// NewFactory returns an empty factory backed by pool.
func NewFactory(pool Pool) *Factory {
	return &Factory{
		pool:  pool,
		now:   time.Now,
		cache: make(map[cacheKey]*Repository),
	}
}

// For returns the repository for entity bound to the request's tenant.
func (f *Factory) For(ctx context.Context, entity string) (*Repository, error) {
	conn, err := tenant.ConnFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := Lookup(entity); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// The request may still hold a handle the pool has since retired.  Such
	// a graph is built for this request only.
	cacheable := f.pool.Current(conn.Name) == conn

	arena := make(map[string]*Repository)
	repo := f.bindLocked(conn, entity, cacheable, arena)
	if cacheable {
		for name, r := range arena {
			f.cache[cacheKey{conn.Name, name}] = r
		}
	}
	return repo, nil
}

// bindLocked returns a repository for entity on conn.  Valid cache entries
// are reused when cacheable; stale ones are evicted.  f.mu must be held.
func (f *Factory) bindLocked(conn *tenant.Conn, entity string, cacheable bool, arena map[string]*Repository) *Repository {
	if r, ok := arena[entity]; ok {
		return r
	}

	k := cacheKey{conn.Name, entity}
	if r, ok := f.cache[k]; ok {
		if r.conn == conn && cacheable {
			metrics.RepositoryCacheTotal.WithLabelValues("hit").Inc()
			arena[entity] = r
			return r
		}
		if r.conn != conn && cacheable {
			metrics.RepositoryCacheTotal.WithLabelValues("stale").Inc()
			delete(f.cache, k)
		}
	} else {
		metrics.RepositoryCacheTotal.WithLabelValues("miss").Inc()
	}

	def, _ := Lookup(entity)
	r := &Repository{
		def:     def,
		conn:    conn,
		checker: f.pool,
		now:     f.now,
		assoc:   make(map[string]*Repository, len(def.Associations)),
	}
	arena[entity] = r

	for _, a := range def.Associations {
		r.assoc[a.Name] = f.bindLocked(conn, a.Target, cacheable, arena)
	}
	return r
}

// Clear drops every cached repository.
func (f *Factory) Clear() {
	f.mu.Lock()
	f.cache = make(map[cacheKey]*Repository)
	f.mu.Unlock()
}

// EvictDatabase drops the cached repositories for one tenant database.
func (f *Factory) EvictDatabase(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for k := range f.cache {
		if k.database == name {
			delete(f.cache, k)
			n++
		}
	}
	return n
}

// Len reports the number of cached repositories.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}

// Typed accessors.

func (f *Factory) Users(ctx context.Context) (*Repository, error) { return f.For(ctx, EntityUser) }
func (f *Factory) Settings(ctx context.Context) (*Repository, error) {
	return f.For(ctx, EntitySetting)
}
func (f *Factory) Patients(ctx context.Context) (*Repository, error) {
	return f.For(ctx, EntityPatient)
}
func (f *Factory) Doctors(ctx context.Context) (*Repository, error) { return f.For(ctx, EntityDoctor) }
func (f *Factory) Appointments(ctx context.Context) (*Repository, error) {
	return f.For(ctx, EntityAppointment)
}
func (f *Factory) Billings(ctx context.Context) (*Repository, error) {
	return f.For(ctx, EntityBilling)
}
func (f *Factory) Tests(ctx context.Context) (*Repository, error) { return f.For(ctx, EntityTest) }
func (f *Factory) TestReports(ctx context.Context) (*Repository, error) {
	return f.For(ctx, EntityTestReport)
}
func (f *Factory) Cabins(ctx context.Context) (*Repository, error) { return f.For(ctx, EntityCabin) }
func (f *Factory) CabinBookings(ctx context.Context) (*Repository, error) {
	return f.For(ctx, EntityCabinBooking)
}
func (f *Factory) Staff(ctx context.Context) (*Repository, error) { return f.For(ctx, EntityStaff) }
func (f *Factory) Commissions(ctx context.Context) (*Repository, error) {
	return f.For(ctx, EntityCommission)
}
