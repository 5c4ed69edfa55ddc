// Package fault carries the discriminated error kinds shared by the service
// layer and mapped onto HTTP statuses at the transport boundary.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure.
type Kind string

const (
	// KindUnauthenticated marks a missing or invalid credential.
	KindUnauthenticated Kind = "unauthenticated"
	// KindForbidden marks an authenticated caller lacking a required capability.
	KindForbidden Kind = "forbidden"
	// KindNotFound marks a genuinely absent resource or a disguised denial.
	KindNotFound Kind = "not_found"
	// KindConflict marks a uniqueness violation such as a duplicate email.
	KindConflict Kind = "conflict"
	// KindInvalid marks rejected input such as an empty title or email.
	KindInvalid Kind = "invalid"
	// KindInternal marks an unexpected infrastructure failure.
	KindInternal Kind = "internal"
)

// Error is an operation-coded failure with a machine-readable kind.
type Error struct {
	kind Kind
	op   string
	err  error
}

// New wraps a cause with the operation that failed and its kind.
func New(kind Kind, op string, cause error) *Error {
	return &Error{kind: kind, op: op, err: cause}
}

// Newf builds an Error from a format string.
func Newf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{kind: kind, op: op, err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.op, e.kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.op, e.kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind exposes the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Op exposes the operation code attached at construction.
func (e *Error) Op() string {
	return e.op
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind()
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
