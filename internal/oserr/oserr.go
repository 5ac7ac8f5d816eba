// Package oserr classifies the outcome of every OS-facade call into one of
// a small set of kinds, so callers can branch on behavior instead of on
// platform-specific error strings.
package oserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an OS facade call did not return Ok.
type Kind int

const (
	// Ok is not itself an error kind; callers test Err == nil for success.
	Ok Kind = iota
	// Denied means the call failed due to insufficient privilege.
	Denied
	// Vanished means the target process or thread no longer exists.
	Vanished
	// Unsupported means the OS version or object class does not support the call.
	Unsupported
	// Transient means the call may succeed if retried.
	Transient
	// Fatal means the OS facade returned an unrecoverable status.
	Fatal
	// Timeout means a bounded operation exceeded its deadline.
	Timeout
	// Config means the error originates from invalid or missing configuration.
	Config
)

func (k Kind) String() string {
	switch k {
	case Denied:
		return "denied"
	case Vanished:
		return "vanished"
	case Unsupported:
		return "unsupported"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	case Timeout:
		return "timeout"
	case Config:
		return "config"
	default:
		return "ok"
	}
}

// Error is a classified error carrying its Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error, wrapping cause with op for context.
func New(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = errors.WithMessage(cause, op)
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Fatal for unclassified
// errors — an unclassified OS-facade error is itself a bug, and the
// orchestrator treats an unrecognized error conservatively.
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}
