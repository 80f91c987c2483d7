// Package apperr is a small error taxonomy: a set of typed wrappers so
// HTTP handlers can map any returned error to the right status code via
// errors.As instead of string-matching messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
)

// Error wraps an underlying cause with a Kind and the pipeline stage that
// produced it, per §7's propagation policy ("wrap their failures with the
// stage name for diagnosis").
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, stage string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func Validation(stage string, err error) *Error { return wrap(KindValidation, stage, err) }
func NotFound(stage string, err error) *Error   { return wrap(KindNotFound, stage, err) }
func Conflict(stage string, err error) *Error   { return wrap(KindConflict, stage, err) }
func Dependency(stage string, err error) *Error { return wrap(KindDependency, stage, err) }
func Transient(stage string, err error) *Error  { return wrap(KindTransient, stage, err) }
func Fatal(stage string, err error) *Error      { return wrap(KindFatal, stage, err) }

func Validationf(stage, format string, args ...any) *Error {
	return wrap(KindValidation, stage, fmt.Errorf(format, args...))
}
func NotFoundf(stage, format string, args ...any) *Error {
	return wrap(KindNotFound, stage, fmt.Errorf(format, args...))
}
func Conflictf(stage, format string, args ...any) *Error {
	return wrap(KindConflict, stage, fmt.Errorf(format, args...))
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e != nil && e.Kind == kind
}
