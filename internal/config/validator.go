// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `LoadFrom` calls `validateStruct` right after it unmarshals and defaults
// the merged Koanf tree.  Any tag mismatch aborts startup, so the binary
// never runs with a half-formed catalog or tenant-database block.
//
// A struct-level rule checks that the redis address is present whenever the
// catalog cache is enabled with the redis backend.

package config

import "github.com/go-playground/validator/v10"

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterStructValidation(validateCacheBackend, Config{})
	return val
}

func validateCacheBackend(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	cache := c.Tenancy.Cache
	if cache.Enabled && cache.Backend == "redis" && c.Redis.Addr == "" {
		sl.ReportError(c.Redis.Addr, "Redis.Addr", "addr", "required_with_redis_cache", "")
	}
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}
