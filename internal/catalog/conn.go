// internal/catalog/conn.go
//
// The single catalog connection.
//
// Context
// -------
// Unlike tenant handles, which live in tenant.Pool, there is exactly one
// catalog handle per process.  It is opened lazily on first use.  Before
// every tenant-resolution pass the middleware calls Ensure, which pings the
// live handle and, when the ping fails, discards it and opens a new one
// once.  A failed reopen surfaces as ErrUnavailable and the request stops
// before any tenant lookup.
//
// Pings run outside the mutex so concurrent requests do not queue behind
// one another; only the swap is serialised.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/metrics"
)

// ErrUnavailable wraps every failure to reach the catalog.
var ErrUnavailable = errors.New("catalog unavailable")

// Opener dials the catalog database.
type Opener func(ctx context.Context) (*sqlx.DB, error)

// Conn owns the catalog handle.  Zero value is unusable; use NewConn.
type Conn struct {
	open Opener

	mu sync.Mutex
	db *sqlx.DB
}

// NewConn returns a Conn that dials with open on first use.
func NewConn(open Opener) *Conn { return &Conn{open: open} }

// Ensure returns a handle that has just answered a ping.
func (c *Conn) Ensure(ctx context.Context) (*sqlx.DB, error) {
	c.mu.Lock()
	db := c.db
	c.mu.Unlock()

	if db != nil {
		err := db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		// The caller gave up; the shared handle is not at fault.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		zap.L().Warn("catalog ping failed, reconnecting", zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another request may have swapped the handle while we pinged.
	if c.db != nil && c.db != db {
		return c.db, nil
	}
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
		metrics.CatalogReconnectTotal.Inc()
	}

	fresh, err := c.open(ctx)
	if err != nil {
		zap.L().Error("catalog connect failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.db = fresh
	return fresh, nil
}

// DB returns the current handle without pinging.
func (c *Conn) DB() (*sqlx.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, ErrUnavailable
	}
	return c.db, nil
}

// Close releases the handle.  Ensure may reopen it afterwards.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
