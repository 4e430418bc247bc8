// Package errs defines the closed set of error kinds surfaced by the quest
// assistant. Callers switch on KindOf(err) instead of matching concrete
// error types.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is reported for errors that never passed through this package.
	KindUnknown Kind = iota
	// KindValidation: malformed or oversized input, malformed decoded fragment.
	KindValidation
	// KindAuth: missing, bad or expired caller identity.
	KindAuth
	// KindInference: transport failure, empty body or protocol violation.
	KindInference
	// KindPersistence: storage failure; retryable by the caller.
	KindPersistence
	// KindNotFound: a mutation targeted an entity that does not exist.
	KindNotFound
	// KindRateLimited: the caller exceeded its turn budget.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindInference:
		return "inference"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "dispatch.update"), Msg is safe to show to API clients.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Validation is shorthand for E(KindValidation, op, msg).
func Validation(op, msg string) *Error { return E(KindValidation, op, msg) }

// NotFound is shorthand for E(KindNotFound, op, msg).
func NotFound(op, msg string) *Error { return E(KindNotFound, op, msg) }

// Message returns the client-safe message of a classified error, or a
// generic one.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}
