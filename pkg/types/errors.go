package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how the system reacts to them.
type ErrorKind string

const (
	// KindTransient marks an unreachable store or collaborator. Retried with
	// backoff a bounded number of times.
	KindTransient ErrorKind = "transient"
	// KindValidation marks malformed input or collaborator output.
	KindValidation ErrorKind = "validation"
	// KindConflict marks an ambiguous entity or edge match.
	KindConflict ErrorKind = "conflict"
	// KindFatal marks a store commit that failed after retries.
	KindFatal ErrorKind = "fatal"
)

// Kind sentinels usable with errors.Is.
var (
	ErrTransient  = errors.New("transient error")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrFatal      = errors.New("fatal error")
)

// Error carries an ErrorKind and the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrFatal)
// holds for any fatal Error in the chain.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

func NewTransientError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func NewValidationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

func NewConflictError(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Err: err}
}

func NewFatalError(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are reported as transient.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Warning is a non-fatal problem attached to an ingestion or search result.
type Warning struct {
	Kind      ErrorKind `json:"kind"`
	Stage     string    `json:"stage"`
	Candidate string    `json:"candidate,omitempty"`
	Message   string    `json:"message"`
}

func (w Warning) String() string {
	if w.Candidate == "" {
		return fmt.Sprintf("[%s] %s: %s", w.Kind, w.Stage, w.Message)
	}
	return fmt.Sprintf("[%s] %s (%s): %s", w.Kind, w.Stage, w.Candidate, w.Message)
}
