// Package database centralises sqlx connection helpers.  Two dialects are
// supported: "mysql" (go-sql-driver/mysql, the default for both the catalog
// and tenant databases) and "postgres" (pgx stdlib driver).
//
// Public entry points:
//
//	Open(ctx, dialect, dsn, opts) - open, tune, and ping with retries.
//	DSN(dialect, Target)          - build a driver DSN from parts.
//	IsAuthFailure(err)            - recognise rejected credentials.
//
// Open pings before returning so callers can fail fast.  Callers should
// Close() the returned *sqlx.DB when no longer needed.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
)

// Dialects.
const (
	MySQL    = "mysql"
	Postgres = "postgres"
)

// Options tunes one pool.  Zero values fall back to
// 15 open, 5 idle, and a 30-minute connection lifetime.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retries         int           // extra ping attempts after the first
	RetryBackoff    time.Duration // sleep between attempts
}

// Target names one database on one server.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   string // driver-specific extras, "k=v&k2=v2"
}

// DriverName maps a dialect to the registered database/sql driver.
func DriverName(dialect string) (string, error) {
	switch dialect {
	case MySQL, "":
		return "mysql", nil
	case Postgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Open returns a tuned *sqlx.DB that has answered at least one ping.
func Open(ctx context.Context, dialect, dsn string, opts Options) (*sqlx.DB, error) {
	driver, err := DriverName(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	applyOptions(db, opts)

	if err := pingWithRetry(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applyOptions(db *sqlx.DB, opts Options) {
	maxOpen, maxIdle, life := opts.MaxOpenConns, opts.MaxIdleConns, opts.ConnMaxLifetime
	if maxOpen == 0 {
		maxOpen = 15
	}
	if maxIdle == 0 {
		maxIdle = 5
	}
	if life == 0 {
		life = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(life)
}

func pingWithRetry(ctx context.Context, db *sqlx.DB, opts Options) error {
	var err error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		// Rejected credentials never heal on retry.
		if IsAuthFailure(err) || attempt == opts.Retries {
			break
		}
		t := time.NewTimer(opts.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// DSN renders t for the given dialect.
func DSN(dialect string, t Target) (string, error) {
	switch dialect {
	case MySQL, "":
		cfg := mysql.NewConfig()
		cfg.User = t.User
		cfg.Passwd = t.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", t.Host, t.Port)
		cfg.DBName = t.Name
		cfg.ParseTime = true
		if t.Params != "" {
			params, err := splitParams(t.Params)
			if err != nil {
				return "", err
			}
			cfg.Params = params
		}
		return cfg.FormatDSN(), nil
	case Postgres:
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			urlEscape(t.User), urlEscape(t.Password), t.Host, t.Port, t.Name)
		if t.Params != "" {
			dsn += "?" + t.Params
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// IsAuthFailure recognises MySQL error 1045 and Postgres SQLSTATE 28000 /
// 28P01, the only errors that invalidate a pooled tenant handle outright.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1045
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "28000" || pgErr.Code == "28P01"
	}
	return false
}
