// internal/tenant/errors.go
//
// Typed tenant-resolution failures.
//
// Context
// -------
// Every terminating state of the resolution middleware maps to one Kind.
// Handlers never see a raw driver or catalog error: the middleware wraps it
// in *Error, and WriteError turns that into the JSON or HTML response.
//
// Notes
// -----
//   - Domain and subscription problems are the requester's to fix (403).
//     Catalog, connection, and ordering problems are ours (500).
//   - errors.Is(err, ErrNoTenantContext) matches any *Error of that kind,
//     whatever its message or wrapped cause.
package tenant

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a resolution failure.
type Kind int

const (
	KindDomainUnresolved Kind = iota + 1
	KindDomainNotRegistered
	KindSystemUnavailable
	KindNoDatabaseForDomain
	KindSubscriptionInactive
	KindSubscriptionExpired
	KindTenantConnectionError
	KindNoTenantContext
)

var kindNames = map[Kind]string{
	KindDomainUnresolved:      "domain_unresolved",
	KindDomainNotRegistered:   "domain_not_registered",
	KindSystemUnavailable:     "system_unavailable",
	KindNoDatabaseForDomain:   "no_database_for_domain",
	KindSubscriptionInactive:  "subscription_inactive",
	KindSubscriptionExpired:   "subscription_expired",
	KindTenantConnectionError: "tenant_connection_error",
	KindNoTenantContext:       "no_tenant_context",
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Status is the HTTP status written for k.
func (k Kind) Status() int {
	switch k {
	case KindDomainUnresolved, KindDomainNotRegistered,
		KindSubscriptionInactive, KindSubscriptionExpired:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Title heads the rendered error page.
func (k Kind) Title() string {
	switch k {
	case KindDomainUnresolved, KindDomainNotRegistered:
		return "Domain Not Found"
	case KindSubscriptionInactive, KindSubscriptionExpired:
		return "Subscription Problem"
	case KindNoTenantContext:
		return "Please Try Again"
	default:
		return "Service Unavailable"
	}
}

// promptsRegistration reports whether the response should carry the
// registration link.
func (k Kind) promptsRegistration() bool {
	return k == KindDomainUnresolved || k == KindDomainNotRegistered
}

// Error is a resolution failure ready to be shown to the requester.
type Error struct {
	Kind        Kind
	Domain      string
	Message     string
	RedirectURL string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tenant: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("tenant: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Status is shorthand for e.Kind.Status().
func (e *Error) Status() int { return e.Kind.Status() }

// Sentinels for errors.Is.
var (
	ErrDomainUnresolved      = &Error{Kind: KindDomainUnresolved}
	ErrDomainNotRegistered   = &Error{Kind: KindDomainNotRegistered}
	ErrSystemUnavailable     = &Error{Kind: KindSystemUnavailable}
	ErrNoDatabaseForDomain   = &Error{Kind: KindNoDatabaseForDomain}
	ErrSubscriptionInactive  = &Error{Kind: KindSubscriptionInactive}
	ErrSubscriptionExpired   = &Error{Kind: KindSubscriptionExpired}
	ErrTenantConnectionError = &Error{Kind: KindTenantConnectionError}
	ErrNoTenantContext       = &Error{
		Kind:    KindNoTenantContext,
		Message: "Tenant context is missing. Please refresh the page and try again.",
	}
)

// newError builds the requester-facing error for kind.
func newError(kind Kind, domain string, cause error) *Error {
	e := &Error{Kind: kind, Domain: domain, Err: cause}
	switch kind {
	case KindDomainUnresolved:
		e.Message = "Unable to determine the domain for this request."
	case KindDomainNotRegistered:
		e.Message = fmt.Sprintf("Domain %s is not registered.", domain)
	case KindSystemUnavailable:
		e.Message = "The system is temporarily unavailable. Please try again shortly."
	case KindNoDatabaseForDomain:
		e.Message = "No database is configured for this domain. Please contact support."
	case KindSubscriptionInactive:
		e.Message = "The subscription for this domain is not active."
	case KindTenantConnectionError:
		e.Message = "Unable to connect to the tenant database."
	case KindNoTenantContext:
		e.Message = ErrNoTenantContext.Message
	}
	return e
}

// expiredError carries the expiry date in its message.
func expiredError(domain string, expiry time.Time) *Error {
	e := newError(KindSubscriptionExpired, domain, nil)
	e.Message = fmt.Sprintf("The subscription for this domain expired on %s.",
		expiry.Format("2006-01-02"))
	return e
}

// AsError normalises err into *Error.  Anything that is not already a
// tenant error is reported as SystemUnavailable.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		if te.Message == "" {
			return newError(te.Kind, te.Domain, te.Err)
		}
		return te
	}
	return newError(KindSystemUnavailable, "", err)
}
