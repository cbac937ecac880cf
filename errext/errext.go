// Package errext provides helpers for attaching user-facing hints and
// process exit codes to errors without inventing a parallel error type
// for every failure mode in the pipeline.
package errext

import (
	"errors"
	"fmt"

	"go.modpipe.dev/modpipe/errext/exitcodes"
)

// Exception is implemented by errors that carry their own formatted
// stack/context string, e.g. a JavaScript exception bubbled up from the
// script engine. Fprint prefers it over err.Error() when present.
type Exception interface {
	error
	StackTrace() string
}

// AbortReason describes why a running script was aborted, when known.
type AbortReason uint8

// HasAbortReason is implemented by exceptions that know why execution
// stopped (as opposed to merely failing).
type HasAbortReason interface {
	error
	AbortReason() AbortReason
}

// HasHint is implemented by errors carrying a short, user-facing
// suggestion for how to fix the underlying problem.
type HasHint interface {
	error
	Hint() string
}

type hintError struct {
	err  error
	hint string
}

func (e hintError) Error() string { return e.err.Error() }
func (e hintError) Unwrap() error { return e.err }
func (e hintError) Hint() string  { return e.hint }

// WithHint wraps err so that Hint() returns hint. If err already carries a
// hint, the new hint is prepended and the old one parenthesized, so a
// chain of WithHint calls reads as "best hint (better hint (original hint))".
// WithHint(nil, ...) returns nil, matching the rest of the errext helpers'
// nil-in/nil-out convention.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	var existing HasHint
	if errors.As(err, &existing) {
		hint = fmt.Sprintf("%s (%s)", hint, existing.Hint())
	}
	return hintError{err: err, hint: hint}
}

// HasExitCode is implemented by errors that dictate the process exit code
// the CLI should use when this error terminates the run.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

type exitCodeError struct {
	err  error
	code exitcodes.ExitCode
}

func (e exitCodeError) Error() string               { return e.err.Error() }
func (e exitCodeError) Unwrap() error                { return e.err }
func (e exitCodeError) ExitCode() exitcodes.ExitCode { return e.code }

// WithExitCodeIfNone wraps err with code unless err (or something it
// wraps) already carries an exit code, in which case the existing code
// wins — the innermost producer of the error knows best what happened.
// WithExitCodeIfNone(nil, ...) returns nil.
func WithExitCodeIfNone(err error, code exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var existing HasExitCode
	if errors.As(err, &existing) {
		code = existing.ExitCode()
	}
	return exitCodeError{err: err, code: code}
}
