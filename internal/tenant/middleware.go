// internal/tenant/middleware.go
//
// Tenant-resolution middleware.
//
// Context
// -------
// Runs once per request, before authentication and business handlers.  It
// either attaches a *Context and calls through, or writes a typed error and
// stops.  The steps run strictly in order and each may end the request:
//
//  1. Skip-check       allowlisted paths pass straight through.
//  2. Resolve domain   DomainUnresolved (403).
//  3. Catalog ping     SystemUnavailable (500).
//  4. Domain lookup    DomainNotRegistered (403).
//  5. Database lookup  NoDatabaseForDomain (500).
//  6. Subscription     SubscriptionInactive, SubscriptionExpired (403).
//  7. Acquire handle   TenantConnectionError (500).
//  8. Attach *Context to the request context.
//  9. Fire-and-forget  last_accessed writes; failures are logged only.
//  10. Call next.
//
// Notes
// -----
//   - Expiry is compared by calendar date in the configured location.  A
//     record expiring today is still valid.
//   - Bookkeeping runs on a context detached from the request, bounded by
//     BookkeepingTimeout, and is launched through Go so tests can run it
//     inline.
package tenant

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/catalog"
	"github.com/caresuite/hospital/internal/config"
	"github.com/caresuite/hospital/internal/metrics"
)

// Catalog is the read/write surface the middleware needs.  *catalog.Store
// and *catalog.Cached both satisfy it.
type Catalog interface {
	Ping(ctx context.Context) error
	DomainByName(ctx context.Context, name string) (*catalog.Domain, error)
	DatabaseByDomainID(ctx context.Context, domainID uint64) (*catalog.DatabaseRecord, error)
	TouchDomain(ctx context.Context, id uint64, at time.Time) error
	TouchDatabase(ctx context.Context, id uint64, at time.Time) error
}

// Connector hands out pooled tenant handles.  *Pool satisfies it.
type Connector interface {
	GetOrCreate(ctx context.Context, name string) (*Conn, error)
}

// Middleware resolves the tenant for each request.
type Middleware struct {
	Catalog         Catalog
	Pool            Connector
	Skip            *SkipMatcher
	PublicSuffix    string
	RegistrationURL string

	// Location fixes "today" for expiry checks.
	Location *time.Location
	// BookkeepingTimeout bounds the detached last_accessed writes.
	BookkeepingTimeout time.Duration

	// Now and Go are test seams.
	Now func() time.Time
	Go  func(func())

	// OnError writes terminal failures.  Defaults to WriteError.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// NewMiddleware wires a Middleware from the tenancy config section.
func NewMiddleware(cat Catalog, pool Connector, cfg config.Tenancy) (*Middleware, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Middleware{
		Catalog:            cat,
		Pool:               pool,
		Skip:               NewSkipMatcher(cfg.SkipPaths...),
		PublicSuffix:       cfg.PublicSuffix,
		RegistrationURL:    cfg.RegistrationURL,
		Location:           loc,
		BookkeepingTimeout: cfg.BookkeepingTimeout,
	}, nil
}

// Handler is the chi-compatible middleware function.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip.Match(r.URL.Path) {
			metrics.TenantResolutionTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			next.ServeHTTP(w, r)
			return
		}

		tc, terr := m.resolve(r)
		if terr != nil {
			metrics.TenantResolutionTotal.WithLabelValues(terr.Kind.String()).Inc()
			m.log(r, terr)
			m.writeError(w, r, terr)
			return
		}

		metrics.TenantResolutionTotal.WithLabelValues(metrics.OutcomeResolved).Inc()
		zap.L().Debug("tenant resolved",
			zap.String("domain", tc.Domain.DomainName),
			zap.String("database", tc.Conn.Name),
			zap.String("path", r.URL.Path),
			zap.String("tenant_request", tc.ID.String()),
		)

		m.touch(r.Context(), tc)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// resolve runs steps 2 through 8.
func (m *Middleware) resolve(r *http.Request) (*Context, *Error) {
	ctx := r.Context()

	domain := Resolve(r, m.PublicSuffix)
	if domain == "" {
		e := newError(KindDomainUnresolved, "", nil)
		e.RedirectURL = m.RegistrationURL
		return nil, e
	}

	if err := m.Catalog.Ping(ctx); err != nil {
		return nil, newError(KindSystemUnavailable, domain, err)
	}

	d, err := m.Catalog.DomainByName(ctx, domain)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		e := newError(KindDomainNotRegistered, domain, nil)
		e.RedirectURL = m.RegistrationURL
		return nil, e
	case err != nil:
		return nil, newError(KindSystemUnavailable, domain, err)
	}

	rec, err := m.Catalog.DatabaseByDomainID(ctx, d.ID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return nil, newError(KindNoDatabaseForDomain, domain, nil)
	case err != nil:
		return nil, newError(KindSystemUnavailable, domain, err)
	}

	now := m.now()
	if !rec.Active() {
		return nil, newError(KindSubscriptionInactive, domain, nil)
	}
	if rec.ExpiredOn(now) {
		return nil, expiredError(domain, rec.ExpiryDate)
	}

	conn, err := m.Pool.GetOrCreate(ctx, rec.DatabaseName)
	if err != nil {
		return nil, newError(KindTenantConnectionError, domain, err)
	}

	return &Context{
		ID:         uuid.New(),
		Domain:     *d,
		Database:   *rec,
		Conn:       conn,
		ResolvedAt: now,
	}, nil
}

// touch updates last_accessed on both catalog rows without blocking the
// request.  Errors are counted and logged, never returned.
func (m *Middleware) touch(parent context.Context, tc *Context) {
	at := m.now()
	domainID, databaseID := tc.Domain.ID, tc.Database.ID
	name := tc.Domain.DomainName
	timeout := m.BookkeepingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m.spawn(func() {
		defer func() {
			if rec := recover(); rec != nil {
				metrics.BookkeepingErrorsTotal.Inc()
				zap.L().Error("tenant bookkeeping panicked",
					zap.String("domain", name), zap.Any("panic", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()

		if err := m.Catalog.TouchDomain(ctx, domainID, at); err != nil {
			metrics.BookkeepingErrorsTotal.Inc()
			zap.L().Warn("domain last_accessed update failed",
				zap.String("domain", name), zap.Error(err))
		}
		if err := m.Catalog.TouchDatabase(ctx, databaseID, at); err != nil {
			metrics.BookkeepingErrorsTotal.Inc()
			zap.L().Warn("database last_accessed update failed",
				zap.String("domain", name), zap.Error(err))
		}
	})
}

func (m *Middleware) now() time.Time {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if m.Location != nil {
		return now().In(m.Location)
	}
	return now()
}

func (m *Middleware) spawn(fn func()) {
	if m.Go != nil {
		m.Go(fn)
		return
	}
	go fn()
}

func (m *Middleware) writeError(w http.ResponseWriter, r *http.Request, e *Error) {
	if m.OnError != nil {
		m.OnError(w, r, e)
		return
	}
	WriteError(w, r, e)
}

func (m *Middleware) log(r *http.Request, e *Error) {
	fields := []zap.Field{
		zap.String("outcome", e.Kind.String()),
		zap.String("domain", e.Domain),
		zap.String("host", r.Host),
		zap.String("path", r.URL.Path),
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if e.Status() >= http.StatusInternalServerError {
		zap.L().Error("tenant resolution failed", fields...)
		return
	}
	zap.L().Info("tenant resolution refused", fields...)
}
