// Package fault defines the error taxonomy shared by every service in
// trustflow. Services return *Error values so callers can branch on the
// failure class without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Validation marks malformed or out-of-range input.
	Validation Kind = iota + 1
	// InvalidTransition marks a state-machine move the transition table
	// does not allow.
	InvalidTransition
	// Conflict marks a uniqueness or concurrent-modification clash.
	Conflict
	// NotFound marks a missing entity.
	NotFound
	// Unauthorized marks an actor acting outside its role or ownership.
	Unauthorized
	// Internal marks everything else: driver failures, broken invariants.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case InvalidTransition:
		return "invalid_transition"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error carries a Kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Transition builds the canonical invalid-transition error, naming the
// entity and both states.
func Transition(entity, from, to string) *Error {
	return &Error{
		Kind: InvalidTransition,
		Msg:  fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
	}
}

// KindOf reports the Kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

func IsValidation(err error) bool        { return Is(err, Validation) }
func IsInvalidTransition(err error) bool { return Is(err, InvalidTransition) }
func IsConflict(err error) bool          { return Is(err, Conflict) }
func IsNotFound(err error) bool          { return Is(err, NotFound) }
func IsUnauthorized(err error) bool      { return Is(err, Unauthorized) }
