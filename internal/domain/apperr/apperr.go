// Package apperr defines the error taxonomy shared by every fulfillment
// component. Each error carries a stable machine-readable kind and code plus a
// human message; validation errors may also carry field-level detail.
package apperr

import (
	"fmt"
	"maps"

	"github.com/go-faster/errors"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	// KindValidation marks malformed or out-of-range input rejected before storage is touched.
	KindValidation Kind = "validation"
	// KindNotFound marks a referenced order, coupon or courier that does not exist.
	KindNotFound Kind = "not_found"
	// KindForbidden marks a failed role or ownership check.
	KindForbidden Kind = "forbidden"
	// KindConflict marks a lost compare-and-swap or a duplicate claim.
	KindConflict Kind = "conflict"
	// KindIllegalTransition marks a status change absent from the lifecycle table.
	KindIllegalTransition Kind = "illegal_transition"
	// KindCapacityExceeded marks exhausted coupon limits.
	KindCapacityExceeded Kind = "capacity_exceeded"
	// KindUpstreamUnavailable marks a failed collaborator call.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindInternal is reported for errors outside the taxonomy.
	KindInternal Kind = "internal"
)

// Error is the concrete error type of the taxonomy.
//
// Two errors are considered equal by errors.Is when their codes match, so
// package-level values such as coupon.ErrInvalidCoupon work as sentinels even
// after WithField or Wrap produced a derived copy.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

// New returns an Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func (e *Error) clone() *Error {
	c := *e
	c.Fields = maps.Clone(e.Fields)
	return &c
}

// WithField returns a copy of e carrying detail for the named input field.
func (e *Error) WithField(field, detail string) *Error {
	c := e.clone()
	if c.Fields == nil {
		c.Fields = make(map[string]string, 1)
	}
	c.Fields[field] = detail
	return c
}

// Withf returns a copy of e with a formatted message.
func (e *Error) Withf(format string, args ...any) *Error {
	c := e.clone()
	c.Message = fmt.Sprintf(format, args...)
	return c
}

// Wrap returns a copy of e with err as its cause.
func (e *Error) Wrap(err error) *Error {
	c := e.clone()
	c.Err = err
	return c
}

// Validation builds a validation error with a single field detail.
func Validation(code, field, detail string) *Error {
	return New(KindValidation, code, detail).WithField(field, detail)
}

// Upstream wraps a collaborator failure.
func Upstream(collaborator string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Code:    collaborator + ".unavailable",
		Message: collaborator + " unavailable",
		Err:     err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
