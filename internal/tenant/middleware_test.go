package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-chi/chi/v5"

	"github.com/caresuite/hospital/internal/catalog"
	"github.com/caresuite/hospital/internal/config"
	"github.com/caresuite/hospital/internal/view"
)

// fakeCatalog is an in-memory Catalog with switchable failures.
type fakeCatalog struct {
	mu        sync.Mutex
	domains   map[string]*catalog.Domain
	databases map[uint64]*catalog.DatabaseRecord

	pingErr  error
	touchErr error

	lookups int
	touched []uint64
}

func (f *fakeCatalog) Ping(context.Context) error { return f.pingErr }

func (f *fakeCatalog) DomainByName(_ context.Context, name string) (*catalog.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	d, ok := f.domains[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeCatalog) DatabaseByDomainID(_ context.Context, id uint64) (*catalog.DatabaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.databases[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeCatalog) TouchDomain(_ context.Context, id uint64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return f.touchErr
}

func (f *fakeCatalog) TouchDatabase(_ context.Context, id uint64, _ time.Time) error {
	return f.touchErr
}

var today = time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC)

func newFakeCatalog() *fakeCatalog {
	f := &fakeCatalog{
		domains:   map[string]*catalog.Domain{},
		databases: map[uint64]*catalog.DatabaseRecord{},
	}
	f.add(1, "alpha.caresuite.example", "hms_alpha", "active", today.AddDate(1, 0, 0))
	f.add(2, "beta.caresuite.example", "hms_beta", "active", today.AddDate(1, 0, 0))
	return f
}

func (f *fakeCatalog) add(id uint64, domain, db, status string, expiry time.Time) {
	f.domains[domain] = &catalog.Domain{ID: id, DomainName: domain, Status: "active"}
	f.databases[id] = &catalog.DatabaseRecord{
		ID: id * 10, DomainID: id, DatabaseName: db, Status: status,
		ExpiryDate: time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC),
	}
}

type harness struct {
	cat    *fakeCatalog
	opener *mockOpener
	pool   *Pool
	mw     *Middleware
}

func newHarness() *harness {
	cat := newFakeCatalog()
	o := newMockOpener()
	pool := NewPool(o.open)
	mw := &Middleware{
		Catalog:         cat,
		Pool:            pool,
		Skip:            NewSkipMatcher("/public", "/favicon.ico", "/error", "/css", "/js", "/images"),
		PublicSuffix:    "caresuite.example",
		RegistrationURL: "https://caresuite.example/register",
		Location:        time.UTC,
		Now:             func() time.Time { return today },
		Go:              func(fn func()) { fn() },
	}
	return &harness{cat: cat, opener: o, pool: pool, mw: mw}
}

// serve runs one request and returns the recorder plus the tenant seen by
// the downstream handler (nil if next was not reached).
func (h *harness) serve(r *http.Request) (*httptest.ResponseRecorder, *Context) {
	var seen *Context
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	w := httptest.NewRecorder()
	h.mw.Handler(next).ServeHTTP(w, r)
	return w, seen
}

func jsonRequest(host, path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Host = host
	r.Header.Set("Accept", "application/json")
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMiddleware_Resolves(t *testing.T) {
	h := newHarness()
	w, tc := h.serve(jsonRequest("Alpha.CareSuite.example:443", "/patients"))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, tc)
	assert.Equal(t, "hms_alpha", tc.DatabaseName())
	assert.Equal(t, "alpha.caresuite.example", tc.Domain.DomainName)
	assert.Equal(t, uint64(10), tc.Database.ID)
	assert.Same(t, h.pool.Current("hms_alpha"), tc.Conn)
	assert.Equal(t, []uint64{1}, h.cat.touched)
}

func TestMiddleware_SkipPathNeverTouchesCatalog(t *testing.T) {
	h := newHarness()
	h.cat.pingErr = errors.New("must not be called")

	w, tc := h.serve(jsonRequest("alpha.caresuite.example", "/public/logo.png"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, tc)
	assert.Equal(t, 0, h.cat.lookups)
	assert.Equal(t, 0, h.pool.Len())
}

func TestMiddleware_PublicRoutesBypassResolution(t *testing.T) {
	h := newHarness()
	h.mw.Skip = NewSkipMatcher(config.DefaultSkipPaths()...)
	h.cat.pingErr = errors.New("must not be called")

	r := chi.NewRouter()
	r.Use(h.mw.Handler)
	view.MountPublic(r, t.TempDir())
	r.Get("/patients", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	for _, path := range []string{"/error", "/css/missing.css", "/favicon.ico"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, jsonRequest("localhost", path))
		assert.NotEqual(t, http.StatusForbidden, w.Code, path)
		assert.NotEqual(t, http.StatusInternalServerError, w.Code, path)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest("localhost", "/patients"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, h.cat.lookups)
}

func TestMiddleware_LocalhostIsUnresolved(t *testing.T) {
	h := newHarness()
	w, tc := h.serve(jsonRequest("localhost", "/patients"))

	assert.Nil(t, tc)
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decode(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, "Unable to determine the domain for this request.", body.Message)
	assert.Equal(t, "https://caresuite.example/register", body.RedirectURL)
	assert.Equal(t, 0, h.cat.lookups)
}

func TestMiddleware_Failures(t *testing.T) {
	cases := []struct {
		name     string
		host     string
		setup    func(h *harness)
		status   int
		message  string
		redirect bool
	}{
		{
			name:   "catalog down",
			host:   "alpha.caresuite.example",
			setup:  func(h *harness) { h.cat.pingErr = catalog.ErrUnavailable },
			status: http.StatusInternalServerError,
			message: "The system is temporarily unavailable. Please try again shortly.",
		},
		{
			name:     "unknown domain",
			host:     "gamma.caresuite.example",
			status:   http.StatusForbidden,
			message:  "Domain gamma.caresuite.example is not registered.",
			redirect: true,
		},
		{
			name: "no database row",
			host: "alpha.caresuite.example",
			setup: func(h *harness) {
				delete(h.cat.databases, 1)
			},
			status:  http.StatusInternalServerError,
			message: "No database is configured for this domain. Please contact support.",
		},
		{
			name: "suspended",
			host: "alpha.caresuite.example",
			setup: func(h *harness) {
				h.cat.databases[1].Status = "suspended"
			},
			status:  http.StatusForbidden,
			message: "The subscription for this domain is not active.",
		},
		{
			name: "expired yesterday",
			host: "alpha.caresuite.example",
			setup: func(h *harness) {
				h.cat.databases[1].ExpiryDate = time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
			},
			status:  http.StatusForbidden,
			message: "The subscription for this domain expired on 2024-06-09.",
		},
		{
			name: "tenant database unreachable",
			host: "alpha.caresuite.example",
			setup: func(h *harness) {
				h.opener.fail["hms_alpha"] = errors.New("dial tcp: i/o timeout")
			},
			status:  http.StatusInternalServerError,
			message: "Unable to connect to the tenant database.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			if tc.setup != nil {
				tc.setup(h)
			}
			w, seen := h.serve(jsonRequest(tc.host, "/patients"))

			assert.Nil(t, seen, "next must not run")
			assert.Equal(t, tc.status, w.Code)
			body := decode(t, w)
			assert.False(t, body.Success)
			assert.Equal(t, tc.message, body.Message)
			if tc.redirect {
				assert.NotEmpty(t, body.RedirectURL)
			} else {
				assert.Empty(t, body.RedirectURL)
			}
			assert.NotContains(t, w.Body.String(), "dial tcp")
		})
	}
}

func TestMiddleware_ExpiresTodayIsValid(t *testing.T) {
	h := newHarness()
	h.cat.databases[1].ExpiryDate = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	w, tc := h.serve(jsonRequest("alpha.caresuite.example", "/"))
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, tc)
}

func TestMiddleware_BookkeepingFailureIsSwallowed(t *testing.T) {
	h := newHarness()
	h.cat.touchErr = errors.New("lock wait timeout exceeded")

	w, tc := h.serve(jsonRequest("beta.caresuite.example", "/patients"))
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, tc)
	assert.Equal(t, "hms_beta", tc.DatabaseName())
	assert.Equal(t, []uint64{2}, h.cat.touched)
}

func TestMiddleware_BookkeepingPanicIsContained(t *testing.T) {
	h := newHarness()
	h.mw.Catalog = panickyTouch{h.cat}

	w, tc := h.serve(jsonRequest("beta.caresuite.example", "/"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, tc)
}

type panickyTouch struct{ *fakeCatalog }

func (panickyTouch) TouchDomain(context.Context, uint64, time.Time) error { panic("boom") }

func TestMiddleware_HTMLErrorPage(t *testing.T) {
	h := newHarness()
	r := httptest.NewRequest(http.MethodGet, "/patients", nil)
	r.Host = "gamma.caresuite.example"
	r.Header.Set("Accept", "text/html")

	w, _ := h.serve(r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, "Domain gamma.caresuite.example is not registered.")
	assert.Contains(t, body, "https://caresuite.example/register")
}

func TestMiddleware_ConcurrentTenantsStayIsolated(t *testing.T) {
	h := newHarness()
	hosts := map[string]string{
		"alpha.caresuite.example": "hms_alpha",
		"beta.caresuite.example":  "hms_beta",
	}

	// The handler yields between reading the context and reporting, so
	// interleaved requests would expose any shared slot.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ConnFromContext(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		time.Sleep(time.Millisecond)
		fmt.Fprint(w, conn.Name)
	})
	handler := h.mw.Handler(next)

	var wg sync.WaitGroup
	errs := make(chan string, 200)
	for i := 0; i < 100; i++ {
		for host, want := range hosts {
			wg.Add(1)
			go func(host, want string) {
				defer wg.Done()
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, jsonRequest(host, "/patients"))
				if got := strings.TrimSpace(w.Body.String()); got != want {
					errs <- fmt.Sprintf("%s served from %s", host, got)
				}
			}(host, want)
		}
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	assert.Equal(t, 1, h.opener.count("hms_alpha"))
	assert.Equal(t, 1, h.opener.count("hms_beta"))
}

func TestFromContext_Missing(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoTenantContext)

	_, err = ConnFromContext(WithContext(context.Background(), &Context{}))
	assert.ErrorIs(t, err, ErrNoTenantContext)
}

func TestWriteError_UnknownErrorIsGeneric(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/tenant", nil)
	w := httptest.NewRecorder()
	WriteError(w, r, errors.New("pq: password authentication failed for user x"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestWriteError_NoTenantContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/tenant", nil)
	w := httptest.NewRecorder()
	WriteError(w, r, fmt.Errorf("load user: %w", ErrNoTenantContext))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "refresh the page")
}
