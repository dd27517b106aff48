package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies run failures for the CLI and for callers embedding
// the engine.
type ErrorKind string

const (
	KindConfig    ErrorKind = "config"
	KindValidate  ErrorKind = "validation"
	KindPolicy    ErrorKind = "policy_blocked"
	KindProvider  ErrorKind = "provider"
	KindTimeout   ErrorKind = "timeout"
	KindPersist   ErrorKind = "persist"
	KindParse     ErrorKind = "parse"
	KindIntegrity ErrorKind = "integrity"
	KindAborted   ErrorKind = "aborted"
)

// Error is a structured error with a kind and a single-sentence cause.
type Error struct {
	Kind  ErrorKind
	Cause string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Cause, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a structured error of the given kind.
func NewError(kind ErrorKind, cause string) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WrapError builds a structured error wrapping an underlying one.
func WrapError(kind ErrorKind, cause string, err error) *Error {
	return &Error{Kind: kind, Cause: cause, Err: err}
}

// KindOf extracts the ErrorKind from err, or empty when err is not a
// structured engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ErrAborted is returned when a HITL handler aborts the run.
var ErrAborted = NewError(KindAborted, "deliberation aborted by handler")
