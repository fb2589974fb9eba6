// cmd/web/main.go
//
// Hospital management service – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Console logger, then config (.env, conf/global.yaml, HMS_ env).
//
//  2. Resolve `vault:` secret references when vault.enabled is set.
//
//  3. File logger at the configured level (tees to console in a TTY).
//
//  4. Catalog handle, optionally fronted by the memory or Redis cache.
//
//  5. Tenant pool with its health loop, and the repository factory.
//
//  6. Router: request id, recovery, access log, request info, security
//     headers, HTTPS redirect, /healthz, /metrics, public assets and
//     /error (tenant skip list), then tenant resolution, authentication,
//     and every registered component.
//
//  7. Serve until SIGINT or SIGTERM, then drain and close every handle.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/auth"
	"github.com/caresuite/hospital/internal/catalog"
	"github.com/caresuite/hospital/internal/component"
	"github.com/caresuite/hospital/internal/config"
	"github.com/caresuite/hospital/internal/csrf"
	"github.com/caresuite/hospital/internal/database"
	"github.com/caresuite/hospital/internal/logger"
	"github.com/caresuite/hospital/internal/middleware"
	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/requestinfo"
	"github.com/caresuite/hospital/internal/server"
	"github.com/caresuite/hospital/internal/tenant"
	"github.com/caresuite/hospital/internal/vault"
	"github.com/caresuite/hospital/internal/view"

	_ "github.com/caresuite/hospital/components/auth"
	_ "github.com/caresuite/hospital/components/dashboard"
	_ "github.com/caresuite/hospital/components/patients"
	_ "github.com/caresuite/hospital/components/tenantinfo"
)

const shutdownGrace = 20 * time.Second

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	logger.Bootstrap()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		zap.S().Errorw("service stopped", "err", err)
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	//
	// ── 1.  Config and secrets ─────────────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Vault.Enabled {
		vc, err := vault.New(ctx)
		if err != nil {
			return err
		}
		if err := config.ResolveSecrets(ctx, cfg, vc.Secrets(cfg.Vault.TTL)); err != nil {
			return err
		}
	}

	logOut, err := logger.New(cfg.Paths.Root, cfg.Log.Level, runningInTTY())
	if err != nil {
		return err
	}
	defer func() { _ = logOut.Sync() }()

	if err := requestinfo.InitGeo(cfg.Geo.DBPath); err != nil {
		logOut.Warnw("geoip disabled", "path", cfg.Geo.DBPath, "err", err)
	}
	defer requestinfo.CloseGeo()

	//
	// ── 2.  Catalog ────────────────────────────────────────────────────
	//
	catConn := catalog.NewConn(catalogOpener(cfg.Catalog))
	defer catConn.Close()
	store := catalog.NewStore(catConn)
	if n, err := store.ActiveDomainCount(ctx); err != nil {
		logOut.Warnw("catalog not reachable at boot", "err", err)
	} else {
		logOut.Infow("catalog online", "active_domains", n)
	}

	var (
		lookups     tenant.Catalog = store
		invalidator component.CatalogInvalidator
	)
	if cc := cfg.Tenancy.Cache; cc.Enabled {
		var backend catalog.Cache
		switch cc.Backend {
		case "redis":
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			backend = catalog.NewRedisCache(rdb, cc.TTL)
		default:
			backend = catalog.NewMemoryCache(cc.Size, cc.TTL)
		}
		cached := catalog.NewCached(store, backend)
		lookups, invalidator = cached, cached
		logOut.Infow("catalog cache enabled", "backend", cc.Backend, "ttl", cc.TTL)
	}

	//
	// ── 3.  Tenant pool and repositories ───────────────────────────────
	//
	pool := tenant.NewPool(tenant.ConfigOpener(cfg.TenantDB))
	pool.OpenTimeout = tenant.DefaultOpenTimeout +
		time.Duration(cfg.TenantDB.ConnectRetries)*cfg.TenantDB.RetryBackoff
	defer func() {
		if err := pool.Close(); err != nil {
			logOut.Warnw("tenant pool close", "err", err)
		}
	}()
	pool.StartHealth(ctx, cfg.TenantDB.HealthInterval)

	repos := repository.NewFactory(pool)
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	resolve, err := tenant.NewMiddleware(lookups, pool, cfg.Tenancy)
	if err != nil {
		return err
	}

	//
	// ── 4.  Router ─────────────────────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.AccessLog(logOut.Desugar()),
		requestinfo.Enrich,
		middleware.Security,
		middleware.ForceHTTPS(cfg.HTTP.ForceHTTPS),
	)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			component.Fail(w, http.StatusServiceUnavailable, "catalog unavailable")
			return
		}
		component.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "tenants": pool.Len()})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Public routes sit on the tenant skip list and need no session.
	r.Group(func(pub chi.Router) {
		pub.Use(resolve.Handler)
		view.MountPublic(pub, filepath.Join(cfg.Paths.Root, "public"))
	})

	r.Group(func(app chi.Router) {
		app.Use(resolve.Handler)
		app.Use(auth.NewMiddleware(repos, tokens, cfg.Auth.CookieName).Handler)
		err = component.Mount(app, component.Deps{
			Repos:        repos,
			Tokens:       tokens,
			CookieName:   cfg.Auth.CookieName,
			SecureCookie: cfg.HTTP.ForceHTTPS,
			Catalog:      invalidator,
			CSRF:         csrf.New(cfg.Auth.JWTSecret),
		})
	})
	if err != nil {
		return err
	}

	//
	// ── 5.  Serve ──────────────────────────────────────────────────────
	//
	return server.Run(ctx, server.New(cfg.HTTP, r), shutdownGrace)
}

func catalogOpener(c config.Catalog) catalog.Opener {
	return func(ctx context.Context) (*sqlx.DB, error) {
		dsn, err := database.DSN(c.Dialect, database.Target{
			Host:     c.Host,
			Port:     c.Port,
			User:     c.User,
			Password: c.Password,
			Name:     c.Name,
		})
		if err != nil {
			return nil, err
		}
		return database.Open(ctx, c.Dialect, dsn, database.Options{Retries: 2, RetryBackoff: time.Second})
	}
}
