// internal/repository/repository.go
//
// Tenant-bound data access for one entity.
//
// Context
// -------
// A Repository couples one Definition with one tenant handle.  It is built
// by Factory and never holds a connection the caller chose; the handle
// always comes from the request's tenant context.  Queries are single
// parameterised statements written with `?` placeholders and passed through
// sqlx Rebind, so the postgres dialect works unchanged.
//
// Errors from the driver are reported to the pool (Checker) before being
// returned, so a rejected-credentials error retires the handle.
//
// Notes
// -----
//   - Struct scans (Get, Select) use sqlx `db` tags.  Record-returning
//     calls (Find, List, Related) use MapScan and normalise []byte to string.
//   - Column names are checked against the Definition before any SQL is
//     built.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/caresuite/hospital/internal/tenant"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: not found")
	// ErrUnknownColumn is returned for identifiers outside the Definition.
	ErrUnknownColumn = errors.New("repository: unknown column")
	// ErrUnknownEntity is returned for names without a Definition.
	ErrUnknownEntity = errors.New("repository: unknown entity")
	// ErrUnknownAssociation is returned by Association and Related.
	ErrUnknownAssociation = errors.New("repository: unknown association")
)

// Checker receives every driver error with the handle that produced it.
// *tenant.Pool satisfies it.
type Checker interface {
	Check(conn *tenant.Conn, err error) error
}

// Record is one row keyed by column name.
type Record map[string]any

// Where is an AND of column equality tests.
type Where map[string]any

// Filter narrows List and Select.
type Filter struct {
	Where   Where
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Repository is immutable once returned by Factory.
type Repository struct {
	def     Definition
	conn    *tenant.Conn
	checker Checker
	now     func() time.Time

	// assoc holds sibling repositories bound to the same handle.
	assoc map[string]*Repository
}

// Entity returns the entity name.
func (r *Repository) Entity() string { return r.def.Entity }

// Definition returns the bound definition.
func (r *Repository) Definition() Definition { return r.def }

// Conn returns the tenant handle this repository is bound to.
func (r *Repository) Conn() *tenant.Conn { return r.conn }

func (r *Repository) db() *sqlx.DB { return r.conn.DB }

func (r *Repository) postgres() bool { return r.db().DriverName() == "pgx" }

func (r *Repository) quote(ident string) string {
	if r.postgres() {
		return `"` + ident + `"`
	}
	return "`" + ident + "`"
}

func (r *Repository) check(err error) error {
	if err == nil || r.checker == nil {
		return err
	}
	return r.checker.Check(r.conn, err)
}

func (r *Repository) validate(cols ...string) error {
	for _, c := range cols {
		if !r.def.HasColumn(c) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, r.def.Entity, c)
		}
	}
	return nil
}

// where renders w in sorted column order for stable SQL.
func (r *Repository) where(w Where) (string, []any, error) {
	if len(w) == 0 {
		return "", nil, nil
	}
	cols := make([]string, 0, len(w))
	for c := range w {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if err := r.validate(cols...); err != nil {
		return "", nil, err
	}
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		parts[i] = r.quote(c) + " = ?"
		args[i] = w[c]
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func (r *Repository) selectSQL(f Filter) (string, []any, error) {
	clause, args, err := r.where(f.Where)
	if err != nil {
		return "", nil, err
	}
	q := "SELECT * FROM " + r.quote(r.def.Table) + clause
	if f.OrderBy != "" {
		if err := r.validate(f.OrderBy); err != nil {
			return "", nil, err
		}
		q += " ORDER BY " + r.quote(f.OrderBy)
		if f.Desc {
			q += " DESC"
		}
	}
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	}
	return r.db().Rebind(q), args, nil
}

func (r *Repository) byKeySQL() string {
	return r.db().Rebind("SELECT * FROM " + r.quote(r.def.Table) +
		" WHERE " + r.quote(r.def.Key) + " = ? LIMIT 1")
}

// Get scans the row with primary key id into dest (a struct pointer).
func (r *Repository) Get(ctx context.Context, dest any, id any) error {
	err := r.db().GetContext(ctx, dest, r.byKeySQL(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return r.check(err)
}

// First scans the first row matching f into dest.
func (r *Repository) First(ctx context.Context, dest any, f Filter) error {
	f.Limit = 1
	q, args, err := r.selectSQL(f)
	if err != nil {
		return err
	}
	err = r.db().GetContext(ctx, dest, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return r.check(err)
}

// Select scans every row matching f into dest (a slice pointer).
func (r *Repository) Select(ctx context.Context, dest any, f Filter) error {
	q, args, err := r.selectSQL(f)
	if err != nil {
		return err
	}
	return r.check(r.db().SelectContext(ctx, dest, q, args...))
}

// Find returns the row with primary key id as a Record.
func (r *Repository) Find(ctx context.Context, id any) (Record, error) {
	rows, err := r.db().QueryxContext(ctx, r.byKeySQL(), id)
	if err != nil {
		return nil, r.check(err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, r.check(err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// List returns every row matching f as Records.
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	q, args, err := r.selectSQL(f)
	if err != nil {
		return nil, err
	}
	rows, err := r.db().QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, r.check(err)
	}
	recs, err := scanRecords(rows)
	return recs, r.check(err)
}

// Count returns the number of rows matching w.
func (r *Repository) Count(ctx context.Context, w Where) (int64, error) {
	clause, args, err := r.where(w)
	if err != nil {
		return 0, err
	}
	q := r.db().Rebind("SELECT COUNT(*) FROM " + r.quote(r.def.Table) + clause)
	var n int64
	if err := r.db().GetContext(ctx, &n, q, args...); err != nil {
		return 0, r.check(err)
	}
	return n, nil
}

// Create inserts values and returns the new primary key.  created_at and
// updated_at are stamped when declared and not supplied.
func (r *Repository) Create(ctx context.Context, values Record) (int64, error) {
	values = r.stamp(values, true)
	cols, args, err := r.columns(values)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("repository: create %s with no values", r.def.Entity)
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = r.quote(c)
	}
	q := "INSERT INTO " + r.quote(r.def.Table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	if r.postgres() {
		var id int64
		q = r.db().Rebind(q + " RETURNING " + r.quote(r.def.Key))
		if err := r.db().GetContext(ctx, &id, q, args...); err != nil {
			return 0, r.check(err)
		}
		return id, nil
	}
	res, err := r.db().ExecContext(ctx, r.db().Rebind(q), args...)
	if err != nil {
		return 0, r.check(err)
	}
	return res.LastInsertId()
}

// Update writes values to the row with primary key id and returns the
// number of rows affected.
func (r *Repository) Update(ctx context.Context, id any, values Record) (int64, error) {
	values = r.stamp(values, false)
	delete(values, r.def.Key)
	cols, args, err := r.columns(values)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, nil
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = r.quote(c) + " = ?"
	}
	q := r.db().Rebind("UPDATE " + r.quote(r.def.Table) + " SET " +
		strings.Join(sets, ", ") + " WHERE " + r.quote(r.def.Key) + " = ?")
	res, err := r.db().ExecContext(ctx, q, append(args, id)...)
	if err != nil {
		return 0, r.check(err)
	}
	return res.RowsAffected()
}

// Delete removes the row with primary key id.
func (r *Repository) Delete(ctx context.Context, id any) (int64, error) {
	q := r.db().Rebind("DELETE FROM " + r.quote(r.def.Table) +
		" WHERE " + r.quote(r.def.Key) + " = ?")
	res, err := r.db().ExecContext(ctx, q, id)
	if err != nil {
		return 0, r.check(err)
	}
	return res.RowsAffected()
}

// Association returns the sibling repository for the named association.
// It is bound to the same tenant handle as r.
func (r *Repository) Association(name string) (*Repository, Association, error) {
	a, ok := r.def.Association(name)
	if !ok {
		return nil, Association{}, fmt.Errorf("%w: %s.%s", ErrUnknownAssociation, r.def.Entity, name)
	}
	sib, ok := r.assoc[name]
	if !ok {
		return nil, a, fmt.Errorf("%w: %s.%s not bound", ErrUnknownAssociation, r.def.Entity, name)
	}
	return sib, a, nil
}

// Related loads the rows reached through association name from the row
// with primary key id.  BelongsTo yields at most one record.
func (r *Repository) Related(ctx context.Context, name string, id any) ([]Record, error) {
	sib, a, err := r.Association(name)
	if err != nil {
		return nil, err
	}
	switch a.Kind {
	case HasMany:
		return sib.List(ctx, Filter{Where: Where{a.ForeignKey: id}, OrderBy: sib.def.Key})
	case BelongsTo:
		row, err := r.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		fk, ok := row[a.ForeignKey]
		if !ok || fk == nil {
			return nil, nil
		}
		parent, err := sib.Find(ctx, fk)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Record{parent}, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s has no kind", ErrUnknownAssociation, r.def.Entity, name)
	}
}

// stamp copies values and fills timestamp columns.
func (r *Repository) stamp(values Record, create bool) Record {
	out := make(Record, len(values)+2)
	for k, v := range values {
		out[k] = v
	}
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	t := now().UTC()
	if create && r.def.HasColumn("created_at") {
		if _, ok := out["created_at"]; !ok {
			out["created_at"] = t
		}
	}
	if r.def.HasColumn("updated_at") {
		if _, ok := out["updated_at"]; !ok {
			out["updated_at"] = t
		}
	}
	return out
}

// columns validates and orders the keys of values.
func (r *Repository) columns(values Record) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if err := r.validate(cols...); err != nil {
		return nil, nil, err
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	return cols, args, nil
}

func scanRecords(rows *sqlx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, Record(m))
	}
	return out, rows.Err()
}
