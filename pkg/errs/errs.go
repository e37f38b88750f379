// SPDX-License-Identifier: Apache-2.0

// Package errs defines the error taxonomy shared by every component of the
// replication engine. Callers classify failures by Kind to decide whether to
// retry, abort the current database, or fail the whole run.
package errs

import "fmt"

// Kind classifies an Error for retry and reporting purposes.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	SourcePrecondition Kind = "source_precondition"
	TargetPrecondition Kind = "target_precondition"
	Validation         Kind = "validation"
	TransientIO        Kind = "transient_io"
	DataIntegrity      Kind = "data_integrity"
	Cascade            Kind = "cascade"
	ToolFailure        Kind = "tool_failure"
	Timeout            Kind = "timeout"
	Cancelled          Kind = "cancelled"
)

// Retryable reports whether errors of this kind should be retried by the
// batch retry loop (pkg/snapshot) rather than bubbled to the pipeline.
func (k Kind) Retryable() bool {
	return k == TransientIO
}

// ExitCode maps a Kind to the CLI exit code documented for the engine.
func (k Kind) ExitCode() int {
	switch k {
	case InvalidInput, Validation:
		return 2
	case SourcePrecondition:
		return 3
	case TargetPrecondition:
		return 4
	case DataIntegrity:
		return 5
	case Timeout, Cancelled:
		return 6
	default:
		return 1
	}
}

// Error is the engine-wide error type. Message must never contain a
// password or a full source/target URL; Identifier, when set, names the
// offending object (table, database, publication) for user-facing display.
type Error struct {
	Kind       Kind
	Message    string
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Identifier)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error without discarding it.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithIdentifier returns a copy of e naming the offending identifier.
func (e *Error) WithIdentifier(id string) *Error {
	cp := *e
	cp.Identifier = id
	return &cp
}

// CascadeError is raised when a filtered snapshot would need to truncate a
// table outside the replication scope.
type CascadeError struct {
	Table             string
	ConflictingTables []string
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("truncating %q would cascade into out-of-scope tables: %v", e.Table, e.ConflictingTables)
}

// AsEngineError extracts the first *Error in err's chain, if any.
func AsEngineError(err error) (*Error, bool) {
	var e *Error
	if err == nil {
		return nil, false
	}
	if ee, ok := err.(*Error); ok {
		return ee, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if ee, ok := err.(*Error); ok {
			return ee, true
		}
	}
	return e, false
}
