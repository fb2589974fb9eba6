// internal/acl/store.go
//
// Feature-flag lookups for the tenant's settings table.
//
// Context
// -------
// Optional modules (lab reports, cabin bookings, commissions) are switched
// on per tenant through rows in `settings`:
//
//	settings (id PK, name UNIQUE, value, updated_at)
//	         name = "feature.<module>", value = "enabled"
//
// Lookups go through the tenant-bound Settings repository, so a flag is
// always read from the requesting tenant's database.
//
// Notes
// -----
// • A missing row means "disabled".
// • Oxford commas, two spaces after periods.
package acl

import (
	"context"
	"errors"
	"strings"

	"github.com/caresuite/hospital/internal/repository"
)

// FeaturePrefix namespaces feature flags in `settings`.
const FeaturePrefix = "feature."

// SettingSource hands out the tenant-bound Settings repository.
// *repository.Factory satisfies it.
type SettingSource interface {
	Settings(ctx context.Context) (*repository.Repository, error)
}

type setting struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

// FeatureEnabled reports whether feature.<name> is "enabled" for the
// request's tenant.
func FeatureEnabled(ctx context.Context, src SettingSource, name string) (bool, error) {
	settings, err := src.Settings(ctx)
	if err != nil {
		return false, err
	}
	var s setting
	err = settings.First(ctx, &s, repository.Filter{
		Where: repository.Where{"name": FeaturePrefix + name},
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(s.Value), "enabled"), nil
}
