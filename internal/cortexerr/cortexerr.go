// Package cortexerr gives every layer of cortex one tagged-error shape
// instead of ad-hoc sentinel values, following the classification in
// spec.md §7. It is grounded on the teacher's JSON-RPC error type in
// internal/a2a/errors (a small struct carrying a classification code plus a
// wrapped cause), generalized from a numeric JSON-RPC code to the five
// named kinds the core actually distinguishes.
package cortexerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of §7's "recovery vs surface"
// policy: which errors abort the response path, which are logged and
// swallowed, and which propagate to the caller untouched.
type Kind string

const (
	// Validation is a bad payload or missing required field, surfaced to the
	// caller before any side effect occurs.
	Validation Kind = "validation"
	// RateLimited is raised by an LLM provider; propagated without a
	// synchronous retry, but increases back-pressure on proactive delivery.
	RateLimited Kind = "rate_limited"
	// Transient is a storage-layer blip (Redis/Postgres); logged at warn,
	// never fatal to the response path.
	Transient Kind = "transient"
	// ParseFailure is malformed structured output from an LLM call where
	// JSON was the contract.
	ParseFailure Kind = "parse_failure"
	// Internal is anything else: a programming error or an invariant
	// violation that should not be reachable.
	Internal Kind = "internal"
)

// Error pairs a Kind with a wrapped cause so callers can branch on
// classification with errors.As while %w preserves the original chain.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "router.Route", "trait.Reinforce"
	Err     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under kind, tagging the operation that produced it.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a Validation error directly from a format string,
// mirroring the common case of rejecting a bad ChatRequest before any
// side effect.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: Validation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Transientf builds a Transient error, marking it retryable by default
// since storage blips are the common case (§7 "best-effort retries are
// local to the storage layer").
func Transientf(op string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Err: err, Retryable: true}
}

// ParseFailuref builds a ParseFailure error for malformed LLM JSON output.
func ParseFailuref(op string, err error) *Error {
	return &Error{Kind: ParseFailure, Op: op, Err: err}
}

// Is reports whether the first *Error found in err's chain carries the
// given Kind; a deeper *Error wrapped inside it is not inspected.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not carry a *Error in its chain — an untagged error is treated as an
// unexpected internal condition rather than silently ignored.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
