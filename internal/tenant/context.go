// internal/tenant/context.go
//
// Request-scoped tenant binding.
//
// Context
// -------
// The resolved tenant travels with the request's context.Context, never in
// a package variable.  Two concurrent requests for different tenants each
// carry their own *Context, so neither can observe the other's handle.  The
// *Conn inside is shared with every other request for the same database;
// the *Context wrapper is not.
//
// A *Context is immutable once the middleware attaches it.
package tenant

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/caresuite/hospital/internal/catalog"
)

type (
	ctxKey  struct{}
	slotKey struct{}
)

// Context is the per-request view of the resolved tenant.
type Context struct {
	ID         uuid.UUID
	Domain     catalog.Domain
	Database   catalog.DatabaseRecord
	Conn       *Conn
	ResolvedAt time.Time
}

// DatabaseName is the physical database this request is bound to.
func (c *Context) DatabaseName() string { return c.Conn.Name }

// WithContext returns a copy of parent carrying tc.  If an outer wrapper
// installed a Slot, tc is published there too.
func WithContext(parent context.Context, tc *Context) context.Context {
	if s, ok := parent.Value(slotKey{}).(*Slot); ok {
		s.p.Store(tc)
	}
	return context.WithValue(parent, ctxKey{}, tc)
}

// Slot lets middleware that runs outside resolution (access logging) see
// the tenant once the inner handler returns.
type Slot struct{ p atomic.Pointer[Context] }

// Load returns the published tenant or nil.
func (s *Slot) Load() *Context { return s.p.Load() }

// WithSlot returns r carrying a fresh Slot.
func WithSlot(r *http.Request) (*http.Request, *Slot) {
	s := &Slot{}
	return r.WithContext(context.WithValue(r.Context(), slotKey{}, s)), s
}

// FromContext returns the tenant bound to ctx.  It fails with
// ErrNoTenantContext when the resolution middleware has not run.
func FromContext(ctx context.Context) (*Context, error) {
	tc, ok := ctx.Value(ctxKey{}).(*Context)
	if !ok || tc == nil || tc.Conn == nil {
		return nil, ErrNoTenantContext
	}
	return tc, nil
}

// ConnFromContext is FromContext narrowed to the handle.
func ConnFromContext(ctx context.Context) (*Conn, error) {
	tc, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return tc.Conn, nil
}
