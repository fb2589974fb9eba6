// internal/auth/context.go
//
// Authenticated-user helpers.
//
// Usage
// -----
//
//	// The session middleware attaches the loaded user.
//	ctx = auth.WithUser(ctx, u)
//
//	// Downstream code retrieves it.
//	u, ok := auth.UserFrom(ctx)
//	id, ok := auth.UserID(ctx)
//
// Notes
// -----
// • The *User is loaded from the request's tenant database, never from a
//   process-wide table.
// • Oxford commas, two spaces after periods.

package auth

import "context"

// User mirrors the columns of `users` the application reads.
type User struct {
	ID           int64  `db:"id"            json:"id"`
	Name         string `db:"name"          json:"name"`
	Email        string `db:"email"         json:"email"`
	PasswordHash string `db:"password_hash" json:"-"`
	Role         string `db:"role"          json:"role"`
	Status       string `db:"status"        json:"status"`
}

// Active reports whether the account may sign in.
func (u *User) Active() bool { return u.Status == "" || u.Status == "active" }

// userKey is unexported to avoid context-key collisions.
type userKey struct{}

// WithUser returns a new context carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom extracts the user attached by the session middleware.
func UserFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}

// UserID returns the authenticated user's id, or (0, false).
func UserID(ctx context.Context) (int64, bool) {
	u, ok := UserFrom(ctx)
	if !ok {
		return 0, false
	}
	return u.ID, true
}
