package catalog

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed migrations
var migrationFS embed.FS

// Migrations returns the embedded migration directory for a dialect, ready
// for golang-migrate's iofs source.
func Migrations(dialect string) (fs.FS, string, error) {
	switch dialect {
	case "mysql", "":
		return migrationFS, "migrations/mysql", nil
	case "postgres":
		return migrationFS, "migrations/postgres", nil
	default:
		return nil, "", fmt.Errorf("no catalog migrations for dialect %q", dialect)
	}
}
