// internal/repository/definition.go
//
// Entity definitions.
//
// Context
// -------
// Every tenant database carries the same schema.  A Definition names the
// table, the columns a caller may filter, sort, or write, and the
// associations to sibling entities.  Definitions are static; only their
// binding to a tenant handle varies (see factory.go).
//
// Notes
// -----
//   - Column lists double as an allowlist.  Identifiers never come from
//     request input unchecked.
//   - BelongsTo keys live on this table, HasMany keys on the target.
package repository

import "sort"

// Entity names.
const (
	EntityUser         = "user"
	EntitySetting      = "setting"
	EntityPatient      = "patient"
	EntityDoctor       = "doctor"
	EntityAppointment  = "appointment"
	EntityBilling      = "billing"
	EntityTest         = "test"
	EntityTestReport   = "test_report"
	EntityCabin        = "cabin"
	EntityCabinBooking = "cabin_booking"
	EntityStaff        = "staff"
	EntityCommission   = "commission"
)

// AssocKind is the direction of an association.
type AssocKind int

const (
	BelongsTo AssocKind = iota + 1
	HasMany
)

// Association links an entity to a sibling.
type Association struct {
	Name       string
	Kind       AssocKind
	Target     string
	ForeignKey string
}

// Definition describes one entity table.
type Definition struct {
	Entity       string
	Table        string
	Key          string
	Columns      []string
	Associations []Association
}

// HasColumn reports whether col is declared.
func (d Definition) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Association returns the named association.
func (d Definition) Association(name string) (Association, bool) {
	for _, a := range d.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

func belongsTo(name, target, fk string) Association {
	return Association{Name: name, Kind: BelongsTo, Target: target, ForeignKey: fk}
}

func hasMany(name, target, fk string) Association {
	return Association{Name: name, Kind: HasMany, Target: target, ForeignKey: fk}
}

var definitions = map[string]Definition{
	EntityUser: {
		Entity: EntityUser, Table: "users", Key: "id",
		Columns: []string{"id", "name", "email", "password_hash", "role", "status", "created_at", "updated_at"},
	},
	EntitySetting: {
		Entity: EntitySetting, Table: "settings", Key: "id",
		Columns: []string{"id", "name", "value", "updated_at"},
	},
	EntityPatient: {
		Entity: EntityPatient, Table: "patients", Key: "id",
		Columns: []string{"id", "name", "phone", "email", "gender", "date_of_birth", "address", "blood_group", "created_at", "updated_at"},
		Associations: []Association{
			hasMany("appointments", EntityAppointment, "patient_id"),
			hasMany("billings", EntityBilling, "patient_id"),
			hasMany("tests", EntityTest, "patient_id"),
			hasMany("cabin_bookings", EntityCabinBooking, "patient_id"),
		},
	},
	EntityDoctor: {
		Entity: EntityDoctor, Table: "doctors", Key: "id",
		Columns: []string{"id", "name", "specialty", "phone", "email", "fee", "commission_rate", "status", "created_at", "updated_at"},
		Associations: []Association{
			hasMany("appointments", EntityAppointment, "doctor_id"),
			hasMany("commissions", EntityCommission, "doctor_id"),
		},
	},
	EntityAppointment: {
		Entity: EntityAppointment, Table: "appointments", Key: "id",
		Columns: []string{"id", "patient_id", "doctor_id", "scheduled_at", "status", "notes", "created_at", "updated_at"},
		Associations: []Association{
			belongsTo("patient", EntityPatient, "patient_id"),
			belongsTo("doctor", EntityDoctor, "doctor_id"),
		},
	},
	EntityBilling: {
		Entity: EntityBilling, Table: "billings", Key: "id",
		Columns: []string{"id", "patient_id", "amount", "discount", "paid", "status", "issued_at", "created_at", "updated_at"},
		Associations: []Association{
			belongsTo("patient", EntityPatient, "patient_id"),
			hasMany("commissions", EntityCommission, "billing_id"),
		},
	},
	EntityTest: {
		Entity: EntityTest, Table: "tests", Key: "id",
		Columns: []string{"id", "patient_id", "doctor_id", "name", "price", "status", "ordered_at", "created_at", "updated_at"},
		Associations: []Association{
			belongsTo("patient", EntityPatient, "patient_id"),
			belongsTo("doctor", EntityDoctor, "doctor_id"),
			hasMany("reports", EntityTestReport, "test_id"),
		},
	},
	EntityTestReport: {
		Entity: EntityTestReport, Table: "test_reports", Key: "id",
		Columns: []string{"id", "test_id", "result", "file_path", "reported_at", "created_at", "updated_at"},
		Associations: []Association{
			belongsTo("test", EntityTest, "test_id"),
		},
	},
	EntityCabin: {
		Entity: EntityCabin, Table: "cabins", Key: "id",
		Columns: []string{"id", "name", "type", "daily_rate", "status", "created_at", "updated_at"},
		Associations: []Association{
			hasMany("bookings", EntityCabinBooking, "cabin_id"),
		},
	},
	EntityCabinBooking: {
		Entity: EntityCabinBooking, Table: "cabin_bookings", Key: "id",
		Columns: []string{"id", "cabin_id", "patient_id", "check_in", "check_out", "status", "created_at", "updated_at"},
		Associations: []Association{
			belongsTo("cabin", EntityCabin, "cabin_id"),
			belongsTo("patient", EntityPatient, "patient_id"),
		},
	},
	EntityStaff: {
		Entity: EntityStaff, Table: "staff", Key: "id",
		Columns: []string{"id", "name", "role", "phone", "email", "salary", "joined_at", "status", "created_at", "updated_at"},
	},
	EntityCommission: {
		Entity: EntityCommission, Table: "commissions", Key: "id",
		Columns: []string{"id", "doctor_id", "billing_id", "amount", "paid", "created_at", "updated_at"},
		Associations: []Association{
			belongsTo("doctor", EntityDoctor, "doctor_id"),
			belongsTo("billing", EntityBilling, "billing_id"),
		},
	},
}

// Lookup returns the definition for entity.
func Lookup(entity string) (Definition, bool) {
	d, ok := definitions[entity]
	return d, ok
}

// Entities lists every defined entity, sorted.
func Entities() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
