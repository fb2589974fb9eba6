// internal/catalog/store.go
//
// Catalog query helpers.
//
// Context
// -------
// These helpers give the tenant middleware read access to `domains` and
// `databases`, plus the best-effort `last_accessed` writes.  Every query is
// one parameterised statement run against the handle owned by Conn.
//
// Workflow
// --------
//  1. The middleware calls Ping (Conn.Ensure) before any lookup.
//  2. DomainByName → DatabaseByDomainID run against the same live handle.
//  3. TouchDomain and TouchDatabase run later from a detached goroutine.
//
// Notes
// -----
//   - Queries are written with `?` placeholders and passed through
//     sqlx Rebind so the postgres dialect works unchanged.
//   - Missing rows map to ErrNotFound; other errors are returned verbatim.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("catalog: not found")

// Store reads the catalog through a Conn.
type Store struct {
	conn *Conn
}

// NewStore returns a Store backed by conn.
func NewStore(conn *Conn) *Store { return &Store{conn: conn} }

// Ping makes sure the catalog handle is live, reconnecting once if needed.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.conn.Ensure(ctx)
	return err
}

// DomainByName fetches the row for an exact, lower-cased domain name.
func (s *Store) DomainByName(ctx context.Context, name string) (*Domain, error) {
	const q = `
        SELECT id, domain_name, status, last_accessed
        FROM   domains
        WHERE  domain_name = ?
        LIMIT  1`
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}
	var d Domain
	if err := db.GetContext(ctx, &d, db.Rebind(q), name); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// DatabaseByDomainID fetches the tenant database row owned by a domain.
func (s *Store) DatabaseByDomainID(ctx context.Context, domainID uint64) (*DatabaseRecord, error) {
	const q = `
        SELECT id, domain_id, database_name, status, expiry_date, last_accessed
        FROM   ` + "`databases`" + `
        WHERE  domain_id = ?
        LIMIT  1`
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}
	var r DatabaseRecord
	if err := db.GetContext(ctx, &r, db.Rebind(quoteTable(db, q)), domainID); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// TouchDomain records the latest access time for a domain.
func (s *Store) TouchDomain(ctx context.Context, id uint64, at time.Time) error {
	return s.touch(ctx, `UPDATE domains SET last_accessed = ? WHERE id = ?`, id, at)
}

// TouchDatabase records the latest access time for a tenant database.
func (s *Store) TouchDatabase(ctx context.Context, id uint64, at time.Time) error {
	return s.touch(ctx, "UPDATE `databases` SET last_accessed = ? WHERE id = ?", id, at)
}

func (s *Store) touch(ctx context.Context, q string, id uint64, at time.Time) error {
	db, err := s.conn.DB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, db.Rebind(quoteTable(db, q)), at, id)
	return err
}

// ActiveDomainCount is logged at boot as an early sanity check.
func (s *Store) ActiveDomainCount(ctx context.Context) (int, error) {
	db, err := s.conn.Ensure(ctx)
	if err != nil {
		return 0, err
	}
	const q = "SELECT COUNT(*) FROM `databases` WHERE status = ?"
	var n int
	err = db.GetContext(ctx, &n, db.Rebind(quoteTable(db, q)), StatusActive)
	return n, err
}

// quoteTable swaps MySQL backticks for double quotes on postgres.
// `databases` is reserved in MySQL, so the queries quote it.
func quoteTable(db *sqlx.DB, q string) string {
	if db.DriverName() != "pgx" {
		return q
	}
	out := []byte(q)
	for i := range out {
		if out[i] == '`' {
			out[i] = '"'
		}
	}
	return string(out)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
