package apperror

import (
	"errors"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
)

// Kind groups domain errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	// malformed input, rejected before any state read
	KindValidation
	KindNotFound
	// operation not legal in the current state
	KindState
	// business rule breach (gps accuracy, geofence, budgets, durations)
	KindPolicy
	// lock timeout, storage or audit sink unavailable
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindPolicy:
		return "policy"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "internal"
	}
}

// Error is a sentinel domain error carrying its Kind. Compare with errors.Is.
type Error struct {
	kind Kind
	code string
	msg  string
}

func New(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() Kind    { return e.kind }

// Code is a stable machine readable identifier, e.g. "OUTSIDE_GEOFENCE".
func (e *Error) Code() string { return e.code }

// KindOf classifies err. Wrapped sentinels keep their kind; validator errors
// are validation errors; anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return KindValidation
	}
	return KindInternal
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.code
	}
	return ""
}
