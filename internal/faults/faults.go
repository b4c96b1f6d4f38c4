// Package faults tags errors with a classification at their origin so that
// retry decisions never depend on message contents.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and reporting decisions
type Kind string

const (
	// Connectivity covers unreachable stores, caches and stream endpoints.
	// These are the only errors the dispatcher retries.
	Connectivity Kind = "connectivity"
	// Validation covers malformed input; rejected immediately, never retried
	Validation Kind = "validation"
	// NotFound covers lookups of records that do not exist
	NotFound Kind = "not_found"
	// Internal covers everything else
	Internal Kind = "internal"
)

// Error is a classified error
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of this error
func (e *Error) Kind() Kind { return e.kind }

// New creates a classified error
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// Wrapf classifies an existing error with a formatted message
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf returns the classification of err, walking the wrap chain. Errors
// that were never classified report Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return Internal
}

// Retryable reports whether err is worth retrying with backoff
func Retryable(err error) bool {
	return KindOf(err) == Connectivity
}
