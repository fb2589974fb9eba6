package tenant

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// Conn is one pooled handle bound to exactly one tenant database.  The Pool
// owns it; requests only borrow the pointer.  Identity matters: repository
// caches compare *Conn values to detect a recreated handle.
type Conn struct {
	Name   string
	DB     *sqlx.DB
	Opened time.Time
}

// Close releases the underlying *sqlx.DB.  Only the Pool calls it.
func (c *Conn) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
