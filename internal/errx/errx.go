// Package errx carries an operation name and a failure kind alongside an error.
// Stores, the shortener service and the HTTP layer agree on kinds only; the
// wrapped cause is for logs and never reaches a client.
package errx

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Unknown Kind = iota
	// Invalid marks input that cannot be shortened (bad syntax, bad scheme, unresolvable host).
	Invalid
	NotFound
	// Conflict marks a duplicate key on insert.
	Conflict
	// Unavailable marks a backend that could not be reached or refused a write.
	Unavailable
	Internal
)

type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// E wraps err with op and kind. A nil err yields nil so callers can wrap unconditionally.
func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case Invalid:
		return "Invalid"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Unavailable:
		return "Unavailable"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
