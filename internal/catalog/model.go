// internal/catalog/model.go
//
// Catalog table row models.
//
// Context
// -------
// The catalog (master) database holds exactly two tables that the request
// path reads.  Rows are written by the registration and renewal tooling;
// this service only reads them and bumps `last_accessed`.
//
// Schema reference
//
//	domains   (id, domain_name UNIQUE, status, last_accessed, created_at, updated_at)
//	databases (id, domain_id → domains.id, database_name UNIQUE, status,
//	           expiry_date DATE NOT NULL, last_accessed, created_at, updated_at)
//
// Notes
// -----
// • Nullable timestamps are `*time.Time`; callers must nil-check before use.
// • `ExpiryDate` is a DATE column; only its calendar day is meaningful.
package catalog

import "time"

// StatusActive is the only database status that admits requests.
const StatusActive = "active"

// Domain mirrors one row in `domains`.
type Domain struct {
	ID           uint64     `db:"id"            json:"id"`
	DomainName   string     `db:"domain_name"   json:"domain_name"`
	Status       string     `db:"status"        json:"status"`
	LastAccessed *time.Time `db:"last_accessed" json:"last_accessed,omitempty"`
}

// DatabaseRecord mirrors one row in `databases`.
type DatabaseRecord struct {
	ID           uint64     `db:"id"            json:"id"`
	DomainID     uint64     `db:"domain_id"     json:"domain_id"`
	DatabaseName string     `db:"database_name" json:"database_name"`
	Status       string     `db:"status"        json:"status"`
	ExpiryDate   time.Time  `db:"expiry_date"   json:"expiry_date"`
	LastAccessed *time.Time `db:"last_accessed" json:"last_accessed,omitempty"`
}

// Active reports whether the subscription status admits requests.
func (r *DatabaseRecord) Active() bool { return r.Status == StatusActive }

// ExpiredOn reports whether the subscription lapsed before the calendar day
// of now.  The expiry day itself is still valid.
func (r *DatabaseRecord) ExpiredOn(now time.Time) bool {
	return dateOnly(r.ExpiryDate).Before(dateOnly(now))
}

// ExpiryDay formats the expiry date as YYYY-MM-DD.
func (r *DatabaseRecord) ExpiryDay() string { return r.ExpiryDate.Format(time.DateOnly) }

// dateOnly keeps the calendar day of t in its own location.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
