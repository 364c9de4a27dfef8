// Package pmerrors defines the typed error kinds shared across pm's core
// subsystems, so callers can branch on failure category with errors.As
// instead of parsing messages.
package pmerrors

import "fmt"

// Kind classifies an Error by how a caller should react to it.
type Kind int

const (
	// KindInvalidInput means the caller supplied malformed data: an
	// unparsable version constraint, a malformed recipe, a bad archive path.
	KindInvalidInput Kind = iota

	// KindNotFound means a referenced entity does not exist: a package
	// name absent from the index, a state ID with no matching row, a
	// hash missing from the store.
	KindNotFound

	// KindConflict means the operation cannot proceed because of
	// contention or an unsatisfiable combination: a version solver
	// dead-end, a concurrent state-lock holder, an archive that already
	// exists with a different hash.
	KindConflict

	// KindTransient means the operation failed for a reason that may not
	// recur: a network timeout, a temporary filesystem error. Callers may
	// retry.
	KindTransient

	// KindIntegrity means on-disk or in-transit data failed verification:
	// a hash mismatch, a corrupted archive, a guard discrepancy that
	// could not be healed.
	KindIntegrity

	// KindPolicy means the operation was refused by a configured policy,
	// not a hard technical constraint: a verification guard set to
	// FailFast, a recovery manager past its error budget.
	KindPolicy

	// KindExternal means a subprocess or external tool failed: a build
	// system driver, the SBOM generator, a git clone.
	KindExternal

	// KindInternal means an invariant pm itself is responsible for was
	// violated: a state the code should never reach.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	case KindPolicy:
		return "policy"
	case KindExternal:
		return "external"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the typed error pm's subsystems return. Op names the
// operation that failed (e.g. "store.Put", "resolver.Solve"); Message is a
// human-readable description; Cause, when set, is the underlying error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var s string
	if e.Op != "" {
		s = e.Op + ": "
	}
	s += e.Message
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, satisfying
// errors.Is(err, &Error{Kind: KindNotFound}) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind, operation, and message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that carries cause as its Unwrap() target.
func Wrap(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
