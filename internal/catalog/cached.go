// internal/catalog/cached.go
//
// Optional lookup cache in front of Store.
//
// Context
// -------
// Caching catalog lookups is a pure performance optimisation and is off by
// default.  When enabled, DomainByName and DatabaseByDomainID results are
// kept for the configured TTL.  Misses are never cached, so a newly
// registered domain is visible on its first request.  Subscription changes
// must call Invalidate, which drops both the domain row and its database
// row; until then a cached record may lag the catalog by at most one TTL.
//
// Ping and the Touch writes always pass straight through.
package catalog

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/cache"
	"github.com/caresuite/hospital/internal/metrics"
)

// Source is the Store surface the cache decorates.
type Source interface {
	Ping(ctx context.Context) error
	DomainByName(ctx context.Context, name string) (*Domain, error)
	DatabaseByDomainID(ctx context.Context, domainID uint64) (*DatabaseRecord, error)
	TouchDomain(ctx context.Context, id uint64, at time.Time) error
	TouchDatabase(ctx context.Context, id uint64, at time.Time) error
}

// Cache stores JSON-encoded catalog rows under string keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
	Delete(ctx context.Context, keys ...string)
}

// Cached implements Source on top of another Source plus a Cache.
type Cached struct {
	src   Source
	cache Cache
}

var _ Source = (*Cached)(nil)
var _ Source = (*Store)(nil)

// NewCached wraps src with c.
func NewCached(src Source, c Cache) *Cached { return &Cached{src: src, cache: c} }

func domainKey(name string) string { return "catalog:domain:" + name }
func databaseKey(id uint64) string { return "catalog:database:" + strconv.FormatUint(id, 10) }

func (c *Cached) Ping(ctx context.Context) error { return c.src.Ping(ctx) }

func (c *Cached) DomainByName(ctx context.Context, name string) (*Domain, error) {
	var d Domain
	if c.load(ctx, domainKey(name), &d) {
		return &d, nil
	}
	got, err := c.src.DomainByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.store(ctx, domainKey(name), got)
	return got, nil
}

func (c *Cached) DatabaseByDomainID(ctx context.Context, domainID uint64) (*DatabaseRecord, error) {
	var r DatabaseRecord
	if c.load(ctx, databaseKey(domainID), &r) {
		return &r, nil
	}
	got, err := c.src.DatabaseByDomainID(ctx, domainID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, databaseKey(domainID), got)
	return got, nil
}

func (c *Cached) TouchDomain(ctx context.Context, id uint64, at time.Time) error {
	return c.src.TouchDomain(ctx, id, at)
}

func (c *Cached) TouchDatabase(ctx context.Context, id uint64, at time.Time) error {
	return c.src.TouchDatabase(ctx, id, at)
}

// Invalidate forgets everything cached for a domain.  Call it after any
// change to the domain's status, database, or expiry.
func (c *Cached) Invalidate(ctx context.Context, name string) {
	keys := []string{domainKey(name)}
	var d Domain
	if c.load(ctx, domainKey(name), &d) {
		keys = append(keys, databaseKey(d.ID))
	} else if got, err := c.src.DomainByName(ctx, name); err == nil {
		keys = append(keys, databaseKey(got.ID))
	}
	c.cache.Delete(ctx, keys...)
	metrics.CatalogCacheTotal.WithLabelValues("invalidate").Inc()
}

func (c *Cached) load(ctx context.Context, key string, dest any) bool {
	raw, ok := c.cache.Get(ctx, key)
	if !ok {
		metrics.CatalogCacheTotal.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		zap.L().Warn("catalog cache decode", zap.String("key", key), zap.Error(err))
		c.cache.Delete(ctx, key)
		metrics.CatalogCacheTotal.WithLabelValues("miss").Inc()
		return false
	}
	metrics.CatalogCacheTotal.WithLabelValues("hit").Inc()
	return true
}

func (c *Cached) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.cache.Set(ctx, key, raw)
}

//
// In-process backend
//

// MemoryCache keeps entries in a TTL LRU.
type MemoryCache struct {
	lru *cache.LRU
}

// NewMemoryCache returns a MemoryCache holding up to size entries for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: cache.New(size, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (m *MemoryCache) Set(_ context.Context, key string, val []byte) { m.lru.Add(key, val) }

func (m *MemoryCache) Delete(_ context.Context, keys ...string) {
	for _, k := range keys {
		m.lru.Remove(k)
	}
}
