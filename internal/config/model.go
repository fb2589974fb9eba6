// internal/config/model.go
//
// Typed configuration model.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                        - dotenv values,
//   • `conf/global.yaml`                     - primary static file,
//   • `HMS_`-prefixed environment overrides  - highest precedence.
//
// Secret fields may hold a `vault:<path>#<key>` reference.  ResolveSecrets
// swaps those for the plain value after unmarshal, so callers only ever see
// resolved strings.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.

package config

import (
	"path"
	"strings"
	"time"
)

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	ForceHTTPS   bool          `koanf:"force_https"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
}

//
// Log section
//

// Log selects the minimum level written by the zap cores.
type Log struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

//
// Database sections
//

// Catalog describes the single master database that maps domains to tenant
// databases.
type Catalog struct {
	Dialect  string `koanf:"dialect"  validate:"required,oneof=mysql postgres"`
	Host     string `koanf:"host"     validate:"required"`
	Port     int    `koanf:"port"     validate:"required,min=1,max=65535"`
	User     string `koanf:"user"     validate:"required"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"     validate:"required"`
}

// TenantDB holds the shared credentials used for every tenant database.
// Only the database name varies per tenant.
type TenantDB struct {
	Dialect         string        `koanf:"dialect"           validate:"required,oneof=mysql postgres"`
	Host            string        `koanf:"host"              validate:"required"`
	Port            int           `koanf:"port"              validate:"required,min=1,max=65535"`
	User            string        `koanf:"user"              validate:"required"`
	Password        string        `koanf:"password"`
	Params          string        `koanf:"params"`
	MaxOpen         int           `koanf:"max_open"          validate:"min=0"`
	MaxIdle         int           `koanf:"max_idle"          validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectRetries  int           `koanf:"connect_retries"   validate:"min=0"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
	HealthInterval  time.Duration `koanf:"health_interval"`
}

//
// Tenancy section
//

// CatalogCache configures the optional domain-lookup cache.
type CatalogCache struct {
	Enabled bool          `koanf:"enabled"`
	Backend string        `koanf:"backend" validate:"omitempty,oneof=memory redis"`
	TTL     time.Duration `koanf:"ttl"`
	Size    int           `koanf:"size"    validate:"min=0"`
}

// Tenancy drives the tenant-resolution middleware.
type Tenancy struct {
	RegistrationURL    string        `koanf:"registration_url"    validate:"omitempty,url"`
	PublicSuffix       string        `koanf:"public_suffix"`
	SkipPaths          []string      `koanf:"skip_paths"`
	Timezone           string        `koanf:"timezone"            validate:"omitempty,timezone"`
	BookkeepingTimeout time.Duration `koanf:"bookkeeping_timeout"`
	Cache              CatalogCache  `koanf:"cache"`
}

//
// Collaborators
//

// Redis is only dialled when tenancy.cache.backend == "redis".
type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Auth configures session tokens.
type Auth struct {
	JWTSecret  string        `koanf:"jwt_secret"  validate:"required,min=16"`
	TokenTTL   time.Duration `koanf:"token_ttl"`
	CookieName string        `koanf:"cookie_name"`
}

// Vault toggles resolution of `vault:` secret references.
type Vault struct {
	Enabled bool          `koanf:"enabled"`
	TTL     time.Duration `koanf:"ttl"`
}

// Geo points at an optional GeoLite2-City database.
type Geo struct {
	DBPath string `koanf:"db_path"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // HMS_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Log      Log      `koanf:"log"`
	Catalog  Catalog  `koanf:"catalog"`
	TenantDB TenantDB `koanf:"tenant_db"`
	Tenancy  Tenancy  `koanf:"tenancy"`
	Redis    Redis    `koanf:"redis"`
	Auth     Auth     `koanf:"auth"`
	Vault    Vault    `koanf:"vault"`
	Geo      Geo      `koanf:"geo"`
	Paths    Paths    `koanf:"-"`
}

// applyDefaults fills zero values that have a sensible production default.
func (c *Config) applyDefaults() {
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.TenantDB.MaxOpen == 0 {
		c.TenantDB.MaxOpen = 10
	}
	if c.TenantDB.MaxIdle == 0 {
		c.TenantDB.MaxIdle = 2
	}
	if c.TenantDB.ConnMaxLifetime == 0 {
		c.TenantDB.ConnMaxLifetime = 30 * time.Minute
	}
	if c.TenantDB.RetryBackoff == 0 {
		c.TenantDB.RetryBackoff = 500 * time.Millisecond
	}
	if c.TenantDB.HealthInterval == 0 {
		c.TenantDB.HealthInterval = time.Minute
	}
	// Configured skip paths extend the defaults; normalise drops duplicates.
	c.Tenancy.SkipPaths = append(DefaultSkipPaths(), c.Tenancy.SkipPaths...)
	if c.Tenancy.Timezone == "" {
		c.Tenancy.Timezone = "Local"
	}
	if c.Tenancy.BookkeepingTimeout == 0 {
		c.Tenancy.BookkeepingTimeout = 5 * time.Second
	}
	if c.Tenancy.Cache.Backend == "" {
		c.Tenancy.Cache.Backend = "memory"
	}
	if c.Tenancy.Cache.TTL == 0 {
		c.Tenancy.Cache.TTL = 5 * time.Minute
	}
	if c.Tenancy.Cache.Size == 0 {
		c.Tenancy.Cache.Size = 1024
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "hms_session"
	}
	if c.Vault.TTL == 0 {
		c.Vault.TTL = 10 * time.Minute
	}
}

// DefaultSkipPaths lists the path prefixes that always bypass tenant
// resolution.  tenancy.skip_paths adds to them.
func DefaultSkipPaths() []string {
	return []string{
		"/public", "/favicon.ico", "/error", "/css", "/js", "/images",
		"/healthz", "/metrics",
	}
}

// normalise canonicalises values the tenancy layer compares as strings.
func (c *Config) normalise() {
	t := &c.Tenancy
	if sfx := strings.ToLower(strings.TrimSpace(t.PublicSuffix)); sfx != "" {
		t.PublicSuffix = "." + strings.TrimPrefix(sfx, ".")
	}
	t.RegistrationURL = strings.TrimRight(strings.TrimSpace(t.RegistrationURL), "/")

	seen := make(map[string]bool, len(t.SkipPaths))
	paths := t.SkipPaths[:0]
	for _, p := range t.SkipPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = path.Clean("/" + p)
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	t.SkipPaths = paths
	c.TenantDB.Dialect = strings.ToLower(c.TenantDB.Dialect)
	c.Catalog.Dialect = strings.ToLower(c.Catalog.Dialect)
}
