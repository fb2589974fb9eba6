// components/patients/patients.go
//
// Patient registry component.
//
// Pages
// -----
//   GET  /patients                     paginated list
//
// API
// ---
//   GET    /api/patients               list + total
//   POST   /api/patients               register a patient
//   GET    /api/patients/{id}          one patient
//   GET    /api/patients/{id}/{assoc}  appointments, billings, cabin_bookings
//   GET    /api/patients/{id}/tests    lab tests (feature "lab")
//   DELETE /api/patients/{id}          admin only
//
// Every handler asks the repository factory for the Patients repository;
// the tenant comes from the request, never from the component.
package patients

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/acl"
	"github.com/caresuite/hospital/internal/component"
	"github.com/caresuite/hospital/internal/repository"
	"github.com/caresuite/hospital/internal/tenant"
	"github.com/caresuite/hospital/internal/view"
)

const pageSize = 25

// listable associations exposed under /api/patients/{id}/{assoc}.
var listable = map[string]bool{
	"appointments":   true,
	"billings":       true,
	"cabin_bookings": true,
}

var _ component.Component = (*Component)(nil)

// Component serves patient pages and API.
type Component struct {
	repos    *repository.Factory
	validate *validator.Validate
}

type newPatient struct {
	Name        string `json:"name"          validate:"required,max=120"`
	Phone       string `json:"phone"         validate:"required,max=32"`
	Email       string `json:"email"         validate:"omitempty,email"`
	Gender      string `json:"gender"        validate:"omitempty,oneof=male female other"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Address     string `json:"address"       validate:"max=255"`
	BloodGroup  string `json:"blood_group"   validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
}

func (c *Component) Name() string { return "patients" }

func (c *Component) Init(d component.Deps) error {
	if d.Repos == nil {
		return errors.New("patients component: repositories are required")
	}
	c.repos = d.Repos
	c.validate = validator.New()
	return nil
}

func (c *Component) Routes(r chi.Router) {
	r.Get("/patients", c.page)
	r.Route("/api/patients", func(api chi.Router) {
		api.Get("/", c.list)
		api.Post("/", c.create)
		api.Route("/{id}", func(one chi.Router) {
			one.Get("/", c.show)
			one.With(acl.RequireFeature(c.repos, "lab")).Get("/tests", c.tests)
			one.Get("/{assoc}", c.related)
			one.With(acl.RequireRole("admin")).Delete("/", c.remove)
		})
	})
}

func init() { component.Register(&Component{}) }

/*──────────────────────────── Handlers ─────────────────────────────────────*/

func (c *Component) page(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	rows, total, err := c.fetch(r, page)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := view.Render(w, http.StatusOK, "patients", map[string]any{
		"Title":    "Patients",
		"Patients": rows,
		"Total":    total,
		"Page":     page,
	}); err != nil {
		zap.L().Error("patients render failed", zap.Error(err))
	}
}

func (c *Component) list(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	rows, total, err := c.fetch(r, page)
	if err != nil {
		fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []repository.Record{}
	}
	component.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"patients": rows,
		"total":    total,
		"page":     page,
	})
}

func (c *Component) fetch(r *http.Request, page int) ([]repository.Record, int64, error) {
	repo, err := c.repos.Patients(r.Context())
	if err != nil {
		return nil, 0, err
	}
	total, err := repo.Count(r.Context(), nil)
	if err != nil {
		return nil, 0, err
	}
	rows, err := repo.List(r.Context(), repository.Filter{
		OrderBy: "id",
		Desc:    true,
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	})
	return rows, total, err
}

func (c *Component) show(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	repo, err := c.repos.Patients(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	rec, err := repo.Find(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	component.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "patient": rec})
}

func (c *Component) create(w http.ResponseWriter, r *http.Request) {
	var in newPatient
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&in); err != nil {
		component.Fail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if err := c.validate.Struct(in); err != nil {
		component.Fail(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}

	repo, err := c.repos.Patients(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	values := repository.Record{"name": strings.TrimSpace(in.Name), "phone": in.Phone}
	optional := map[string]string{
		"email": in.Email, "gender": in.Gender, "date_of_birth": in.DateOfBirth,
		"address": in.Address, "blood_group": in.BloodGroup,
	}
	for k, v := range optional {
		if v != "" {
			values[k] = v
		}
	}
	id, err := repo.Create(r.Context(), values)
	if err != nil {
		fail(w, r, err)
		return
	}
	component.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

func (c *Component) related(w http.ResponseWriter, r *http.Request) {
	assoc := chi.URLParam(r, "assoc")
	if !listable[assoc] {
		component.Fail(w, http.StatusNotFound, "Not found.")
		return
	}
	c.relatedTo(w, r, assoc)
}

func (c *Component) tests(w http.ResponseWriter, r *http.Request) {
	c.relatedTo(w, r, "tests")
}

func (c *Component) relatedTo(w http.ResponseWriter, r *http.Request, assoc string) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	repo, err := c.repos.Patients(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	rows, err := repo.Related(r.Context(), assoc, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []repository.Record{}
	}
	component.WriteJSON(w, http.StatusOK, map[string]any{"success": true, assoc: rows})
}

func (c *Component) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	repo, err := c.repos.Patients(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	n, err := repo.Delete(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if n == 0 {
		component.Fail(w, http.StatusNotFound, "Patient not found.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*──────────────────────────── helpers ──────────────────────────────────────*/

// fail maps repository and tenant errors to responses.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		component.Fail(w, http.StatusNotFound, "Patient not found.")
		return
	}
	zap.L().Error("patients request failed", zap.String("path", r.URL.Path), zap.Error(err))
	tenant.WriteError(w, r, err)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		component.Fail(w, http.StatusBadRequest, "Invalid patient id.")
		return 0, false
	}
	return id, true
}

func pageParam(r *http.Request) int {
	p, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || p < 1 {
		return 1
	}
	return p
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return "Invalid value for " + strings.ToLower(ve[0].Field()) + "."
	}
	return "Invalid input."
}
