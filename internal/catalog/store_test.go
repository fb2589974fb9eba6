// internal/catalog/store_test.go
//
// Unit-tests for the catalog connection and query helpers using sqlmock.

package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	conn := NewConn(func(context.Context) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "mysql"), nil
	})
	if _, err := conn.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return NewStore(conn), mock
}

func TestDomainByName(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM domains WHERE domain_name = ?`)).
		WithArgs("cityclinic.caresuite.example").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain_name", "status", "last_accessed"}).
			AddRow(7, "cityclinic.caresuite.example", "active", nil))

	d, err := s.DomainByName(context.Background(), "cityclinic.caresuite.example")
	if err != nil {
		t.Fatalf("DomainByName: %v", err)
	}
	if d.ID != 7 || d.DomainName != "cityclinic.caresuite.example" {
		t.Fatalf("unexpected domain %+v", d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestDomainByName_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM domains`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain_name", "status", "last_accessed"}))

	_, err := s.DomainByName(context.Background(), "nobody.example")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDatabaseByDomainID(t *testing.T) {
	s, mock := newMockStore(t)
	expiry := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM `databases` WHERE domain_id = ?")).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain_id", "database_name", "status", "expiry_date", "last_accessed"}).
			AddRow(3, 7, "hms_cityclinic", "active", expiry, nil))

	r, err := s.DatabaseByDomainID(context.Background(), 7)
	if err != nil {
		t.Fatalf("DatabaseByDomainID: %v", err)
	}
	if r.DatabaseName != "hms_cityclinic" || !r.Active() || !r.ExpiryDate.Equal(expiry) {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestTouch(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE domains SET last_accessed = ? WHERE id = ?`)).
		WithArgs(at, uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `databases` SET last_accessed = ? WHERE id = ?")).
		WithArgs(at, uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.TouchDomain(context.Background(), 7, at); err != nil {
		t.Fatalf("TouchDomain: %v", err)
	}
	if err := s.TouchDatabase(context.Background(), 3, at); err != nil {
		t.Fatalf("TouchDatabase: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStore_NoHandle(t *testing.T) {
	s := NewStore(NewConn(func(context.Context) (*sqlx.DB, error) {
		return nil, errors.New("refused")
	}))
	if _, err := s.DomainByName(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ping err = %v, want ErrUnavailable", err)
	}
}

func TestConnEnsure_ReconnectsOnceAfterFailedPing(t *testing.T) {
	stale, staleMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	fresh, freshMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer fresh.Close()

	handles := []*sqlx.DB{sqlx.NewDb(stale, "mysql"), sqlx.NewDb(fresh, "mysql")}
	opened := 0
	conn := NewConn(func(context.Context) (*sqlx.DB, error) {
		db := handles[opened]
		opened++
		return db, nil
	})

	ctx := context.Background()
	first, err := conn.Ensure(ctx) // lazy open, no ping
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}

	staleMock.ExpectPing().WillReturnError(errors.New("server has gone away"))
	staleMock.ExpectClose()

	second, err := conn.Ensure(ctx)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if second == first || opened != 2 {
		t.Fatalf("expected a fresh handle, opened=%d", opened)
	}

	freshMock.ExpectPing()
	third, err := conn.Ensure(ctx)
	if err != nil || third != second {
		t.Fatalf("healthy handle should be reused: %v", err)
	}
	if err := staleMock.ExpectationsWereMet(); err != nil {
		t.Errorf("stale expectations: %v", err)
	}
	if err := freshMock.ExpectationsWereMet(); err != nil {
		t.Errorf("fresh expectations: %v", err)
	}
}

func TestConnEnsure_ReconnectFailureIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	calls := 0
	conn := NewConn(func(context.Context) (*sqlx.DB, error) {
		calls++
		if calls == 1 {
			return sqlx.NewDb(db, "mysql"), nil
		}
		return nil, errors.New("connection refused")
	})
	ctx := context.Background()
	if _, err := conn.Ensure(ctx); err != nil {
		t.Fatalf("first ensure: %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("broken pipe"))
	mock.ExpectClose()

	if _, err := conn.Ensure(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls != 2 {
		t.Fatalf("open called %d times, want exactly one retry", calls)
	}
}

func TestConnEnsure_CancelledCallerKeepsHandle(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	calls := 0
	conn := NewConn(func(context.Context) (*sqlx.DB, error) {
		calls++
		return sqlx.NewDb(db, "mysql"), nil
	})
	first, err := conn.Ensure(context.Background())
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // database/sql rejects the ping before it reaches the driver
	if _, err := conn.Ensure(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	mock.ExpectPing()
	again, err := conn.Ensure(context.Background())
	if err != nil || again != first {
		t.Fatalf("handle should survive a cancelled caller: %v", err)
	}
	if calls != 1 {
		t.Fatalf("open called %d times, want 1", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
