// internal/config/secrets.go
//
// Resolution of `vault:<path>#<key>` references.
//
// The loader never talks to Vault itself.  cmd/web builds a vault.Client when
// `vault.enabled` is set and hands its lookup to ResolveSecrets, which walks
// the handful of secret-bearing fields and swaps each reference for the
// plain value.

package config

import (
	"context"
	"fmt"
	"strings"
)

const secretPrefix = "vault:"

// SecretFunc fetches one key from one secret path.
type SecretFunc func(ctx context.Context, path, key string) (string, error)

// IsSecretRef reports whether s is a `vault:` reference.
func IsSecretRef(s string) bool { return strings.HasPrefix(s, secretPrefix) }

// ParseSecretRef splits `vault:kv/hms#catalog_password` into
// ("kv/hms", "catalog_password").
func ParseSecretRef(s string) (path, key string, err error) {
	ref := strings.TrimPrefix(s, secretPrefix)
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", "", fmt.Errorf("malformed secret reference %q", s)
	}
	return path, key, nil
}

// ResolveSecrets replaces every `vault:` reference in c using fetch.
func ResolveSecrets(ctx context.Context, c *Config, fetch SecretFunc) error {
	fields := map[string]*string{
		"catalog.password":   &c.Catalog.Password,
		"tenant_db.password": &c.TenantDB.Password,
		"redis.password":     &c.Redis.Password,
		"auth.jwt_secret":    &c.Auth.JWTSecret,
	}
	for name, ptr := range fields {
		if !IsSecretRef(*ptr) {
			continue
		}
		path, key, err := ParseSecretRef(*ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		val, err := fetch(ctx, path, key)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*ptr = val
	}
	return nil
}
