// internal/tenant/pool.go
//
// Tenant connection pool.
//
// Context
// -------
// The pool maps database name → *Conn.  The first request for a name opens
// the handle with the shared tenant credentials; every later request gets
// the same *Conn back without a new handshake.  Concurrent cold starts for
// one name collapse into a single open through singleflight, so a burst of
// first requests never produces two handles.
//
// A handle stays pooled until it is invalidated (an authentication failure,
// a failed health ping) or the pool is closed at shutdown.  Invalidate is
// compare-and-delete: a caller holding a handle that has already been
// replaced cannot evict the fresh one.
//
// Notes
// -----
//   - Opening happens outside the map lock so slow handshakes for one tenant
//     never block lookups for another.
//   - A waiter whose request is cancelled returns its own ctx error.  The
//     open carries on for the other waiters and is pooled when it lands.
//   - The active-connections gauge tracks Len().
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/caresuite/hospital/internal/config"
	"github.com/caresuite/hospital/internal/database"
	"github.com/caresuite/hospital/internal/metrics"
)

// ErrPoolClosed is returned by GetOrCreate after Close.
var ErrPoolClosed = errors.New("tenant pool closed")

// Opener dials one tenant database by name.
type Opener func(ctx context.Context, name string) (*sqlx.DB, error)

// DefaultOpenTimeout bounds one shared handshake, retries included.
const DefaultOpenTimeout = 30 * time.Second

// Pool is safe for concurrent use.
type Pool struct {
	// OpenTimeout bounds each open.  It is independent of the requests
	// waiting on it.
	OpenTimeout time.Duration

	open Opener
	now  func() time.Time

	sfg singleflight.Group

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
}

// NewPool returns an empty pool that dials through open.
func NewPool(open Opener) *Pool {
	return &Pool{
		OpenTimeout: DefaultOpenTimeout,
		open:        open,
		now:         time.Now,
		conns:       make(map[string]*Conn),
	}
}

// ConfigOpener builds an Opener from the tenant_db section.  Host, port,
// user, and password are shared; only the database name varies.
func ConfigOpener(c config.TenantDB) Opener {
	opts := database.Options{
		MaxOpenConns:    c.MaxOpen,
		MaxIdleConns:    c.MaxIdle,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Retries:         c.ConnectRetries,
		RetryBackoff:    c.RetryBackoff,
	}
	return func(ctx context.Context, name string) (*sqlx.DB, error) {
		dsn, err := database.DSN(c.Dialect, database.Target{
			Host:     c.Host,
			Port:     c.Port,
			User:     c.User,
			Password: c.Password,
			Name:     name,
			Params:   c.Params,
		})
		if err != nil {
			return nil, err
		}
		return database.Open(ctx, c.Dialect, dsn, opts)
	}
}

// GetOrCreate returns the pooled handle for name, opening it on first use.
func (p *Pool) GetOrCreate(ctx context.Context, name string) (*Conn, error) {
	if name == "" {
		return nil, errors.New("tenant pool: empty database name")
	}
	if c, err := p.lookup(name); c != nil || err != nil {
		return c, err
	}

	// The shared open outlives any one waiter: it runs detached from ctx
	// under OpenTimeout, and each caller stops waiting only on its own ctx.
	ch := p.sfg.DoChan(name, func() (interface{}, error) {
		// Double-check after the singleflight barrier.
		if c, err := p.lookup(name); c != nil || err != nil {
			return c, err
		}

		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.OpenTimeout)
		defer cancel()
		db, err := p.open(octx, name)
		if err != nil {
			metrics.TenantConnectionErrorsTotal.Inc()
			zap.L().Error("tenant connect failed",
				zap.String("database", name), zap.Error(err))
			return nil, fmt.Errorf("open tenant database %s: %w", name, err)
		}
		c := &Conn{Name: name, DB: db, Opened: p.now()}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = db.Close()
			return nil, ErrPoolClosed
		}
		p.conns[name] = c
		n := len(p.conns)
		p.mu.Unlock()

		metrics.TenantConnectionsOpenedTotal.Inc()
		metrics.ActiveTenantConnections.Set(float64(n))
		zap.L().Info("tenant connection opened", zap.String("database", name))
		return c, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

func (p *Pool) lookup(name string) (*Conn, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	return p.conns[name], nil
}

// Current returns the live handle for name, or nil when none is pooled.
func (p *Pool) Current(name string) *Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[name]
}

// Invalidate drops conn from the pool and closes it, but only if conn is
// still the pooled handle for its name.  It reports whether it removed
// anything.
func (p *Pool) Invalidate(conn *Conn) bool {
	if conn == nil {
		return false
	}
	p.mu.Lock()
	cur, ok := p.conns[conn.Name]
	if !ok || cur != conn {
		p.mu.Unlock()
		return false
	}
	delete(p.conns, conn.Name)
	n := len(p.conns)
	p.mu.Unlock()

	_ = conn.Close()
	metrics.TenantConnectionsInvalidatedTotal.Inc()
	metrics.ActiveTenantConnections.Set(float64(n))
	zap.L().Warn("tenant connection invalidated", zap.String("database", conn.Name))
	return true
}

// Check inspects an error returned by a query on conn.  Rejected
// credentials mean the handle will never recover, so it is invalidated and
// the next request reopens it.  Check returns err unchanged.
func (p *Pool) Check(conn *Conn, err error) error {
	if err != nil && database.IsAuthFailure(err) {
		p.Invalidate(conn)
	}
	return err
}

// Len reports how many handles are pooled.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// snapshot copies the pooled handles for iteration without the lock.
func (p *Pool) snapshot() []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Close closes every pooled handle.  Later GetOrCreate calls fail with
// ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Conn)
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for name, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	metrics.ActiveTenantConnections.Set(0)
	return errors.Join(errs...)
}
