// Package apperr carries the error kinds shared by the deal, dispute,
// subscription and payment packages. Callers test kinds with errors.Is against
// the exported sentinels.
package apperr

import "errors"

// Kind is a machine-readable error category.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindInvalidTransition   Kind = "invalid_transition"
	KindConflict            Kind = "conflict"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindDisputeConflict     Kind = "dispute_conflict"
	KindPaymentCollaborator Kind = "payment_collaborator"
)

var (
	ErrValidation          = New(KindValidation, "validation failed")
	ErrForbidden           = New(KindForbidden, "forbidden")
	ErrNotFound            = New(KindNotFound, "not found")
	ErrInvalidTransition   = New(KindInvalidTransition, "invalid transition")
	ErrConflict            = New(KindConflict, "status changed concurrently")
	ErrQuotaExceeded       = New(KindQuotaExceeded, "active deal quota exceeded")
	ErrDisputeConflict     = New(KindDisputeConflict, "dispute already active")
	ErrPaymentCollaborator = New(KindPaymentCollaborator, "payment processor call failed")
)

// Error is a kinded domain error. Field names the offending input for
// validation errors.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return e.Message + " (" + e.Field + ")"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind. A lost compare-and-set also matches
// ErrInvalidTransition since callers handle both by re-reading.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindInvalidTransition && e.Kind == KindConflict {
		return true
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation reports malformed input on field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldOf returns the offending field of a validation error, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
