// Package apperr defines the error kinds shared by the tenancy layer, the
// services and the HTTP surface.
//
// Every error produced by a service carries exactly one kind, tested with
// errors.Is:
//
//	if errors.Is(err, apperr.ErrNotFound) { ... }
//
// Kinds are never retried automatically except ErrUnavailable, which callers
// may retry with backoff.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation would violate an invariant:
	// duplicate codes, system entity mutation, deletion blocked by live dependents.
	ErrConflict = errors.New("invalid operation")

	// ErrUnauthorized is returned when the actor lacks cross-tenant authority.
	// It is distinct from a negative permission check, which is not an error.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTenantUnresolved is returned when no tenant context can be established.
	ErrTenantUnresolved = errors.New("tenant could not be resolved")

	// ErrUnavailable marks transient store or connectivity failures.
	ErrUnavailable = errors.New("store unavailable")

	// ErrInvalidCredentials is the uniform outcome of failed logins and refreshes.
	ErrInvalidCredentials = errors.New("invalid or expired credentials")
)

// Error is an error tagged with one of the package kinds.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Kind.Error() + ": " + e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound builds an ErrNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds an ErrConflict error carrying a human-readable reason.
func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds an ErrUnauthorized error.
func Unauthorized(format string, args ...any) error {
	return &Error{Kind: ErrUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// TenantUnresolved wraps the reason a tenant could not be determined.
func TenantUnresolved(err error) error {
	return &Error{Kind: ErrTenantUnresolved, Err: err}
}

// Unavailable wraps a transient failure that occurred during op.
func Unavailable(op string, err error) error {
	return &Error{Kind: ErrUnavailable, Message: op, Err: err}
}

// InvalidCredentials returns the uniform login/refresh failure.
func InvalidCredentials() error {
	return &Error{Kind: ErrInvalidCredentials}
}

// Kind returns the kind carried by err, or nil for untagged errors. When
// kinds are nested the outermost one wins, so a tenant resolution failure
// caused by a missing company reports ErrTenantUnresolved.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []error{ErrNotFound, ErrConflict, ErrUnauthorized, ErrTenantUnresolved, ErrUnavailable, ErrInvalidCredentials} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
