package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/caresuite/hospital/internal/tenant"
)

var fixedNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

// mockPool wires a real tenant.Pool to sqlmock handles, one per open.
type mockPool struct {
	*tenant.Pool

	mu    sync.Mutex
	mocks map[*sqlx.DB]sqlmock.Sqlmock
	opens map[string]int
}

func newMockPool(t *testing.T) *mockPool {
	t.Helper()
	mp := &mockPool{
		mocks: map[*sqlx.DB]sqlmock.Sqlmock{},
		opens: map[string]int{},
	}
	mp.Pool = tenant.NewPool(func(_ context.Context, name string) (*sqlx.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		if err != nil {
			return nil, err
		}
		x := sqlx.NewDb(db, "sqlmock")
		mp.mu.Lock()
		mp.mocks[x] = mock
		mp.opens[name]++
		mp.mu.Unlock()
		return x, nil
	})
	t.Cleanup(func() { _ = mp.Close() })
	return mp
}

func (mp *mockPool) mock(c *tenant.Conn) sqlmock.Sqlmock {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.mocks[c.DB]
}

// tenantCtx acquires name from the pool and binds it to a fresh context
// the way the resolution middleware does.
func (mp *mockPool) tenantCtx(t *testing.T, name string) (context.Context, *tenant.Conn) {
	t.Helper()
	c, err := mp.GetOrCreate(context.Background(), name)
	if err != nil {
		t.Fatalf("GetOrCreate(%s): %v", name, err)
	}
	return tenant.WithContext(context.Background(), &tenant.Context{Conn: c}), c
}

func newTestFactory(mp *mockPool) *Factory {
	f := NewFactory(mp.Pool)
	f.now = func() time.Time { return fixedNow }
	return f
}
