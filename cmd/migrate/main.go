// cmd/migrate/main.go
//
// Catalog schema migrations.
//
// Usage
// -----
//
//	migrate            # apply every pending migration
//	migrate -down 1    # roll back one step
//	migrate -version   # print the current version and exit
//
// The catalog connection comes from the same config the web binary reads,
// so HMS_CATALOG__HOST and friends apply here too.  Tenant databases are
// provisioned outside this service and are never migrated from here.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migmysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migpgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/catalog"
	"github.com/caresuite/hospital/internal/config"
	hmsdb "github.com/caresuite/hospital/internal/database"
	"github.com/caresuite/hospital/internal/logger"
)

func main() {
	down := flag.Int("down", 0, "roll back this many steps instead of migrating up")
	version := flag.Bool("version", false, "print the current schema version and exit")
	flag.Parse()

	logger.Bootstrap()
	if err := run(*down, *version); err != nil {
		zap.S().Errorw("migrate failed", "err", err)
		os.Exit(1)
	}
}

func run(down int, printVersion bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c := cfg.Catalog
	if config.IsSecretRef(c.Password) {
		return errors.New("catalog.password is a vault reference; export HMS_CATALOG__PASSWORD instead")
	}

	fsys, dir, err := catalog.Migrations(c.Dialect)
	if err != nil {
		return err
	}
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return err
	}

	dsn, err := hmsdb.DSN(c.Dialect, hmsdb.Target{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		Params:   params(c.Dialect),
	})
	if err != nil {
		return err
	}
	db, err := hmsdb.Open(context.Background(), c.Dialect, dsn, hmsdb.Options{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	driver, name, err := withInstance(c.Dialect, db.DB)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return err
	}
	defer m.Close()

	if printVersion {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty=%t)\n", v, dirty)
		return nil
	}

	if down > 0 {
		err = m.Steps(-down)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		zap.S().Infow("catalog schema up to date", "database", c.Name)
		return nil
	}
	if err != nil {
		return err
	}
	zap.S().Infow("catalog migrated", "database", c.Name, "down", down)
	return nil
}

// params enables multi-statement migration files on MySQL.
func params(dialect string) string {
	if dialect == hmsdb.Postgres {
		return ""
	}
	return "multiStatements=true"
}

func withInstance(dialect string, db *sql.DB) (database.Driver, string, error) {
	if dialect == hmsdb.Postgres {
		d, err := migpgx.WithInstance(db, &migpgx.Config{})
		return d, "pgx5", err
	}
	d, err := migmysql.WithInstance(db, &migmysql.Config{})
	return d, "mysql", err
}
